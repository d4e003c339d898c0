// Package browser drives a Chrome tab over the DevTools protocol with
// chromedp and connects it to the request filter.
//
// Every tab gets its own browser process so that each session can use a
// different egress proxy: Chrome only accepts a proxy on its command line.
// Proxy credentials never go on the command line; they are answered from
// the Fetch domain's auth challenges instead.
package browser
