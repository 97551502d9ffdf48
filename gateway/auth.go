// Copyright 2025 VeilGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"veilgate/platform/shared/types"
)

// tokenTTL is the lifetime of issued bearer tokens.
const tokenTTL = time.Hour

// tokenClaims is the verified identity extracted from a bearer token.
type tokenClaims struct {
	SubjectID   string
	Groups      []string
	Clearance   types.Clearance
	AllowExport bool
	Tenant      string
}

// issueToken signs an HS256 bearer token for the subject. Claim names
// are contractual: sub, groups, attrs, tenant, exp.
func issueToken(subject *types.Subject, signingKey []byte) (string, int, error) {
	expiresIn := int(tokenTTL.Seconds())
	claims := jwt.MapClaims{
		"sub":    subject.ID,
		"groups": subject.Groups,
		"attrs": map[string]interface{}{
			"clearance":    string(subject.Attrs.Clearance),
			"allow_export": subject.Attrs.AllowExport,
		},
		"tenant": subject.TenantID,
		"exp":    time.Now().Add(tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresIn, nil
}

// verifyToken validates signature and expiry and extracts the claims.
func verifyToken(tokenString string, signingKey []byte) (*tokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	sub := getClaimString(claims, "sub")
	if sub == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}

	tc := &tokenClaims{
		SubjectID: sub,
		Groups:    getClaimStringArray(claims, "groups"),
		Tenant:    getClaimString(claims, "tenant"),
	}
	if attrs, ok := claims["attrs"].(map[string]interface{}); ok {
		if clearance, ok := attrs["clearance"].(string); ok {
			tc.Clearance = types.Clearance(clearance)
		}
		if allowExport, ok := attrs["allow_export"].(bool); ok {
			tc.AllowExport = allowExport
		}
	}
	return tc, nil
}

// authenticate pulls the bearer token off the request and verifies it.
func (g *Gateway) authenticate(r *http.Request) (*tokenClaims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == header {
		return nil, fmt.Errorf("Authorization header is not a bearer token")
	}
	return verifyToken(tokenString, g.signingKey)
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func getClaimStringArray(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
