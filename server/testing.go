/*
	This file contains functions useful for testing the server in other packages.
	Unfortunately, due to the way Go handles compilation of *_test.go files,
	these functions cannot be in server_test.go since they will be unavailable
	to test files in external packages.  So these functions are exported and
	contain the "Test" keyword.
*/

package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestHTTPResponse returns a response from a test run of the handler.  Requests
// come from the httptest default remote address, 192.0.2.1.
// Use TestHTTP if you just want the response body bytes.
func TestHTTPResponse(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, urlStr, payload)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure any response has
// status OK.
func TestHTTP(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) []byte {
	resp := TestHTTPResponse(t, h, method, urlStr, payload, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a HTTP response with an error status code, which is returned.
func TestBadHTTP(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) int {
	resp := TestHTTPResponse(t, h, method, urlStr, payload, nil)
	if resp.Code == http.StatusOK {
		t.Fatalf("Expected bad server response to %s on %q, got %d instead.\n", method, urlStr, resp.Code)
	}
	return resp.Code
}
