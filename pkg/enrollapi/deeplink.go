package enrollapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FragmentPrefix starts every verification deep link fragment.
const FragmentPrefix = "#verify:"

// Fragment renders the deep link fragment for address and code. A zero
// issuedAt omits the timestamp segment.
func Fragment(address, code string, issuedAt time.Time) string {
	f := FragmentPrefix + escapeSegment(address) + ":" + escapeSegment(code)
	if !issuedAt.IsZero() {
		f += ":" + strconv.FormatInt(issuedAt.Unix(), 10)
	}
	return f
}

// Link is the full enrollment URL mailed to the user:
// <base>/<locale>/enroll#verify:<address>:<code>:<issued-unix>.
func Link(baseURL, locale, address, code string, issuedAt time.Time) string {
	return fmt.Sprintf("%s/%s/enroll%s", strings.TrimSuffix(baseURL, "/"), locale, Fragment(address, code, issuedAt))
}

// escapeSegment percent-encodes s for use between ':' separators.
func escapeSegment(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), ":", "%3A")
}
