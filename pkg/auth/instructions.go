package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowTokenGuide prints how to create a GitHub personal access token
func ShowTokenGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "GITHUB TOKEN SETUP")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Unauthenticated requests are limited to 60 per hour. With a token")
	fmt.Fprintln(w, "the limit is 5000 per hour.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. Open https://github.com/settings/tokens")
	fmt.Fprintln(w, "2. Generate a fine-grained token with read-only access to public")
	fmt.Fprintln(w, "   repositories (add private repositories if you need them)")
	fmt.Fprintln(w, "3. Copy the token, it is shown only once")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Then either:")
	fmt.Fprintln(w, "   • run `docharvest auth login` and paste it (stored in the system keychain)")
	fmt.Fprintln(w, "   • or export GITHUB_TOKEN=<token>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 72))
}
