package browser

import (
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/nao1215/shopwalk/internal/filter"
	"github.com/nao1215/shopwalk/internal/proxy"
)

// KindFromCDP maps a DevTools resource type to a filter kind.
func KindFromCDP(rt network.ResourceType) filter.ResourceKind {
	return filter.ParseResourceKind(string(rt))
}

// pausedRequest adapts a Fetch.requestPaused event to filter.Request.
//
// Continue and Abort only queue the DevTools call; the answer is sent from
// another goroutine because the event listener must not block.
type pausedRequest struct {
	id      fetch.RequestID
	url     string
	kind    filter.ResourceKind
	pageURL string
	exec    func(name string, action chromedp.Action)
}

// URL implements filter.Request.
func (r *pausedRequest) URL() string { return r.url }

// Kind implements filter.Request.
func (r *pausedRequest) Kind() filter.ResourceKind { return r.kind }

// PageURL implements filter.Request.
func (r *pausedRequest) PageURL() string { return r.pageURL }

// Continue implements filter.Request.
func (r *pausedRequest) Continue() error {
	r.exec("continue request", fetch.ContinueRequest(r.id))
	return nil
}

// Abort implements filter.Request. The request fails as if a content
// blocker had dropped it, which pages handle quietly.
func (r *pausedRequest) Abort() error {
	r.exec("fail request", fetch.FailRequest(r.id, network.ErrorReasonBlockedByClient))
	return nil
}

// authResponse answers an auth challenge. Proxy challenges get the
// descriptor's credentials; anything else is left to Chrome's default
// handling, which cancels the prompt in headless mode.
func authResponse(challenge *fetch.AuthChallenge, p *proxy.Descriptor) *fetch.AuthChallengeResponse {
	if challenge == nil || challenge.Source != fetch.AuthChallengeSourceProxy || p == nil || !p.HasCredentials() {
		return &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseDefault}
	}
	user, pass := p.Credentials()
	return &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: user,
		Password: pass,
	}
}
