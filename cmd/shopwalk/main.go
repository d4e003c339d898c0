// Package main provides the entry point for the shopwalk CLI.
//
// shopwalk drives a real browser through a storefront's landing page to its
// search results, optionally through a pool of egress proxies, and can block
// images, fonts and trackers while the landing page loads.
//
// Usage:
//
//	shopwalk run "green tea"
//	shopwalk run --optimize --proxy-mode sequential rice noodles
//	shopwalk proxies list
//
// See --help for all available options.
package main

// main is the entry point for shopwalk.
func main() {
	Execute()
}
