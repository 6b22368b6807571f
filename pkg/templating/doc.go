/*
Package templating shares a single pongo2 template engine between the modules
of a net/http application.

A host application nests one *TemplateManager in its own state and exposes it
through the HasTemplates interface. During startup the root module initializes
the manager from its template directory, other modules mount their own
template directories under URL prefixes and bind splices (named functions that
templates call), and the host seals the manager. At request time handlers
render templates by name, serve the template tree like static files, or run
inner handlers with splices bound only for their own request.

Templates use pongo2's Django-like syntax. A splice named "greeting" is called
from a template as {{ greeting() }}; unbound splices render as empty output.

Engine state is published as immutable snapshots (State). Renders never lock
the shared state for longer than it takes to load the current snapshot, and
scoped bindings live in a derived snapshot carried by the request context, so
they are gone once the scope returns, even when it fails.
*/
package templating
