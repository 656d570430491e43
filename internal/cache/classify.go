// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package cache

import "regexp"

// runtimePatterns is the allow-list of runtime-cacheable URL paths:
// fingerprinted build assets, images and the web app manifest. API routes
// and everything else stay uncached.
var runtimePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/assets/.*\.(js|css)$`),
	regexp.MustCompile(`\.(png|jpg|jpeg|gif|webp|svg|ico)$`),
	regexp.MustCompile(`^/manifest\.json$`),
}

// Eligible reports whether the URL path may be stored in the runtime
// cache. Pure and side-effect-free.
func Eligible(path string) bool {
	for _, pattern := range runtimePatterns {
		if pattern.MatchString(path) {
			return true
		}
	}
	return false
}
