package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/examcore/pkg/apperr"
)

var validate = validator.New()

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.BadRequest("request body is required")
		}
		return apperr.BadRequest(fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// Validate runs struct tag validation and converts the first failure to a BadRequest
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return apperr.BadRequest(describeFieldError(fieldErrs[0]))
	}
	return apperr.BadRequest(err.Error())
}

// DecodeAndValidate decodes the JSON body and validates it
func DecodeAndValidate(r *http.Request, dest interface{}) error {
	if err := ParseJSON(r, dest); err != nil {
		return err
	}
	return Validate(dest)
}

func describeFieldError(fe validator.FieldError) string {
	field := toSnake(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "uuid", "uuid4":
		return fmt.Sprintf("%s must be a valid UUID", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParsePathUUID extracts a UUID path parameter
func ParsePathUUID(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", apperr.BadRequest(fmt.Sprintf("missing path parameter: %s", key))
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return "", apperr.BadRequest(fmt.Sprintf("invalid %s format", key))
	}
	return id.String(), nil
}

// ParseQueryUUID extracts an optional UUID query parameter
func ParseQueryUUID(r *http.Request, key string) (string, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return "", nil
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return "", apperr.BadRequest(fmt.Sprintf("invalid %s format", key))
	}
	return id.String(), nil
}

// ClientIP returns the address of the directly connected peer
func ClientIP(r *http.Request) string {
	return remoteHost(r.RemoteAddr)
}

// TrustedProxies lists the networks whose X-Forwarded-For entries are believed
type TrustedProxies []*net.IPNet

// ParseTrustedProxies accepts CIDR blocks or bare addresses
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	proxies := make(TrustedProxies, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			proxies = append(proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		proxies = append(proxies, network)
	}
	return proxies, nil
}

// Contains reports whether addr belongs to a trusted network
func (t TrustedProxies) Contains(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range t {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the caller address. X-Forwarded-For is only read when the
// peer is a trusted proxy, and then the rightmost untrusted hop wins.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if len(t) == 0 || !t.Contains(peer) {
		return peer
	}

	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(header, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	if len(hops) == 0 {
		return peer
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if net.ParseIP(hops[i]) == nil {
			return peer
		}
		if !t.Contains(hops[i]) {
			return hops[i]
		}
	}
	return hops[0]
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
