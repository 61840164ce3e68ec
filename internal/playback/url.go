// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package playback

import (
	"net/url"
	"strings"
)

// SignedURL builds the HLS reference handed to the player:
// <base>/<asset>.m3u8?token=<token>
func SignedURL(baseURL, assetID, token string) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(assetID) + ".m3u8?token=" + url.QueryEscape(token)
}
