// Package route maps concrete request paths onto registered route templates so that
// every instance of one route shares a single rate-limit bucket.
//
// # Matching
//
// Templates such as "/items/{id}" are compiled into a segment trie. A raw segment takes
// a static child only on exact equality; anything else goes to the parameter child.
// Static children are always tried before the parameter child, with backtracking, so
// the outcome does not depend on registration order.
//
// # Fallback
//
// Paths that match no template are normalized segment by segment. A segment that is
// a registered static segment is kept; any other segment collapses to "{id}". The
// first segment is the exception: it is kept verbatim unless it looks like an
// identifier (a decimal number, a UUID or a long hex string), so "/orders/7" and
// "/users/7" stay apart.
//
// Callers should register every route they serve. The fallback cannot tell
// "/items/search" from "/items/sku-1" unless "search" is registered.
//
// # What this package must NOT do
//
//   - Look at query strings, fragments, hosts or methods.
//   - Mutate a [Normalizer] after [New] returns.
package route
