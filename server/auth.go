package server

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/zenazn/goji/web"

	"github.com/janelia-flyem/tiled/tiled"
)

// authConfig enables bearer-token authorization when a secret key is set.
type authConfig struct {
	AuthFile  string `toml:"auth_file"`
	SecretKey string `toml:"secret_key"`
}

// GenerateJWT returns a JWT for user signed with the configured secret key.
func (c *Config) GenerateJWT(user string) (string, error) {
	if c.Auth.SecretKey == "" {
		return "", fmt.Errorf("no [auth] secret_key configured")
	}
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["user"] = user

	tokenString, err := token.SignedString([]byte(c.Auth.SecretKey))
	if err != nil {
		return "", fmt.Errorf("error with JWT signing: %v", err)
	}
	return tokenString, nil
}

// loadAuthFile reads the JSON map of user to privilege.  Without a file, any user
// holding a valid token may read.
func loadAuthFile(filename string) (map[string]string, error) {
	if filename == "" {
		tiled.Infof("No authorization file found.  Any valid token may read.\n")
		return map[string]string{"*": "read"}, nil
	}
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	users := make(map[string]string)
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("bad authorization file %s: %v", filename, err)
	}
	return users, nil
}

// isAuthorized is middleware that validates a JWT and sets the c.Env["user"] field
// to the authenticated user.
func (s *Server) isAuthorized(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		reqToken := r.Header.Get("Authorization")
		if len(reqToken) == 0 {
			Unauthorized(w, r, "JWT required via Authorization in request header")
			return
		}
		splitToken := strings.Split(reqToken, "Bearer")
		if len(splitToken) != 2 {
			Unauthorized(w, r, "bearer not in proper format")
			return
		}
		reqToken = strings.TrimSpace(splitToken[1])
		token, err := jwt.Parse(reqToken, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("error signing method: %v", token.Header["alg"])
			}
			return s.secretKey, nil
		})
		if err != nil {
			Unauthorized(w, r, "error parsing JWT: %v", err)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			Unauthorized(w, r, "failed authorization")
			return
		}
		user, ok := claims["user"].(string)
		if !ok {
			Unauthorized(w, r, "user %v is not a simple string", claims["user"])
			return
		}
		if c.Env == nil {
			c.Env = make(map[interface{}]interface{})
		}
		c.Env["user"] = user
		if !s.userAuthorized(user, r.Method) {
			Unauthorized(w, r, "user %q is not authorized", user)
			return
		}
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// userAuthorized returns true if the user's privilege covers the HTTP method.
func (s *Server) userAuthorized(user string, httpMethod string) bool {
	if len(s.authorized) == 0 {
		return false
	}
	method := strings.ToLower(httpMethod)
	readReq := method == "get" || method == "head" || method == "options"
	priv, found := s.authorized[user]
	if !found {
		priv, found = s.authorized["*"]
		if !found {
			return false
		}
	}
	switch priv {
	case "readwrite":
		return true
	case "read":
		return readReq
	case "write":
		return !readReq
	default:
		tiled.Errorf("Authorized user %q has unparsable privilege %q\n", user, priv)
		return false
	}
}
