package enrollment

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	dErrors "emailissuer/pkg/domain-errors"
	"emailissuer/pkg/email"
	"emailissuer/pkg/enrollapi"
)

// DeepLink is a parsed verification link fragment. Address is empty for the
// bare #verify:<code> form.
type DeepLink struct {
	Address  string
	Code     string
	IssuedAt time.Time
}

// ParseDeepLink accepts a full URL, a fragment or a fragment without '#':
//
//	#verify:<address>:<code>[:<issued-unix>]
//	#verify:<code>
//
// Segments are percent-unescaped. Anything else is malformed.
func ParseDeepLink(raw string, codeLength int) (DeepLink, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[i:]
	} else {
		s = "#" + s
	}
	rest, ok := strings.CutPrefix(s, enrollapi.FragmentPrefix)
	if !ok || rest == "" {
		return DeepLink{}, malformed("missing verify prefix")
	}

	parts := strings.Split(rest, ":")
	for i, p := range parts {
		u, err := url.PathUnescape(p)
		if err != nil {
			return DeepLink{}, malformed("bad escape")
		}
		parts[i] = u
	}

	var link DeepLink
	switch len(parts) {
	case 1:
		link.Code = parts[0]
	case 2, 3:
		link.Address, link.Code = strings.TrimSpace(parts[0]), parts[1]
		if !email.IsValid(link.Address) {
			return DeepLink{}, malformed("bad address")
		}
		if len(parts) == 3 {
			unix, err := strconv.ParseInt(parts[2], 10, 64)
			if err != nil || unix <= 0 {
				return DeepLink{}, malformed("bad timestamp")
			}
			link.IssuedAt = time.Unix(unix, 0)
		}
	default:
		return DeepLink{}, malformed("too many segments")
	}

	link.Code = NormalizeCode(link.Code)
	if !ValidCode(link.Code, codeLength) {
		return DeepLink{}, malformed("bad code")
	}
	return link, nil
}

func malformed(reason string) *dErrors.Error {
	return &dErrors.Error{
		Code:     dErrors.CodeValidation,
		WireCode: "error_link_malformed",
		Message:  "malformed verification link: " + reason,
	}
}
