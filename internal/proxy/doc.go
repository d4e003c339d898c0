// Package proxy holds the pool of egress proxies a browsing session may be
// bound to, and hands one out per session under a selection policy.
//
// The pool is loaded once from a YAML (or JSON) document:
//
//	proxies:
//	  - id: p1
//	    name: Tokyo residential
//	    server: http://203.0.113.10:8080
//	    username: user
//	    password: secret
//	  - id: p2
//	    name: Spare
//	    server: socks5://203.0.113.11:1080
//	    active: false
//
// Selection never fails loudly: an absent or broken document yields an empty
// Registry, and an empty Registry always answers "no proxy", in which case the
// session connects directly.
//
// Design decision: The rotation cursor is owned by the Registry and guarded by
// a mutex instead of living in a package-level variable. One Registry is shared
// by every session running in the process, and concurrent sequential
// selections must never observe the same cursor value.
package proxy
