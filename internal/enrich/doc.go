// Package enrich repairs notifications whose payload lacks the fields their
// route needs.
//
// A Resolver walks an ordered list of strategies: the payload itself, the
// local notification store, one backend list query, a coarser course
// fallback and finally the notification list. The first strategy that
// produces a route wins. Resolution never mutates its input, so calling it
// twice with the same notification converges on the same Resolution.
package enrich
