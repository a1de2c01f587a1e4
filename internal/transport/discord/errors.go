package discord

import (
	"errors"
	"net"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"remindbot/internal/retry"
)

// classify maps a discordgo error onto the retry taxonomy:
//
//   - 401/403/404 (and other 4xx): the target is gone or access is denied;
//     permanent, never retried;
//   - 429: rate limited, retried after exactly the server-specified wait;
//   - 5xx and network-level failures: transient outage, retried with backoff.
//
// Anything unrecognized passes through unclassified, which the executor
// treats as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return retry.RateLimited(err, rl.RetryAfter)
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		code := rest.Response.StatusCode
		switch {
		case code == http.StatusUnauthorized,
			code == http.StatusForbidden,
			code == http.StatusNotFound:
			return retry.Permanent(err)
		case code == http.StatusTooManyRequests:
			// Normally surfaced as RateLimitError; header-less fallback.
			return retry.RateLimited(err, 0)
		case code >= 500:
			return retry.Unavailable(err)
		case code >= 400:
			// Remaining 4xx (bad request...) won't improve on retry.
			return retry.Permanent(err)
		}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return retry.Unavailable(err)
	}

	return err
}
