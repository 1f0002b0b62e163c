// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

/*
Package grant holds types of grants issued by authorization services.
See https://datatracker.ietf.org/doc/html/rfc6749#section-1.3 .
*/
package grant

const (
	AuthCode     = "authorization_code"
	RefreshToken = "refresh_token"
)
