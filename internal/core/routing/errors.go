package routing

import "errors"

// ErrNoRoute is returned by the Router's per-hop send when the chosen hop is
// not a known peer with a direct link. Router.Send does not return it:
// unroutable packets are logged and dropped, and Send returns nil.
var ErrNoRoute = errors.New("routing: no route to destination")
