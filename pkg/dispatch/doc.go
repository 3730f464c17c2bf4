// Package dispatch writes responses for a single connection in the order
// their requests arrived.
//
// A connection owns one Dispatcher. Each incoming request is registered with
// Accept, which assigns it an arrival sequence number and returns an
// Exchange. Handlers may run concurrently and call SendResponse in any
// order; the dispatcher holds finished responses until every earlier one has
// been written, then streams the body through the Transport's sink.
//
//	d := dispatch.New(transport, dispatch.WithLogger(log))
//	ex := d.Accept(ctx, req)
//	h := d.SendResponse(ex, dispatch.NewMessage(200, body.JSON(v)))
//	err := h.Wait(ctx)
package dispatch
