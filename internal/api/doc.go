// Package api is the REST collaborator of the sync engine.
//
// It covers the chat server's HTTP endpoints: listing and creating
// conversations, paging message history, participant management and user
// lookup. Every request carries the bearer token. Non-2xx responses come
// back as *chat.Error: 401 as KindAuth, everything else (403 included) as
// KindApplication with the status and the server's message.
//
// Usage:
//
//	c := api.NewClient(cfg.Server.APIURL, token, nil)
//	convs, err := c.ListConversations(ctx)
package api
