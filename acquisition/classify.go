package acquisition

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-acme/lego/v4/acme"

	"github.com/lakowske/podserve/interfaces"
)

// classified are the sentinels an error may already carry; such errors pass
// through classify unchanged.
var classified = []error{
	interfaces.ErrNetwork,
	interfaces.ErrPortConflict,
	interfaces.ErrChallengeFailed,
	interfaces.ErrPropagationTimeout,
	interfaces.ErrRateLimited,
	interfaces.ErrCredentialInvalid,
	interfaces.ErrInvalidConfig,
	interfaces.ErrWebrootUnavailable,
}

// classify maps an error from the ACME conversation onto the shared
// taxonomy. Unrecognized failures count as network errors: the safe default
// is to retry with backoff.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range classified {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var problem *acme.ProblemDetails
	if errors.As(err, &problem) {
		if mapped := classifyProblem(problem.Type, problem.HTTPStatus); mapped != nil {
			return fmt.Errorf("%w: %v", mapped, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", interfaces.ErrNetwork, err)
	}

	// The lego obtain path flattens per-domain failures into strings, so
	// problem documents and wait timeouts surface here by message.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "ratelimited") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", interfaces.ErrRateLimited, err)
	case strings.Contains(msg, "time limit exceeded"):
		// The dns01 propagation wait gave up.
		return fmt.Errorf("%w: %v", interfaces.ErrPropagationTimeout, err)
	case strings.Contains(msg, "address already in use"):
		// The race between the preflight bind check and the real challenge
		// listener was lost.
		return fmt.Errorf("%w: %v", interfaces.ErrPortConflict, err)
	case strings.Contains(msg, "acme:error:unauthorized"),
		strings.Contains(msg, "acme:error:connection"),
		strings.Contains(msg, "acme:error:dns"),
		strings.Contains(msg, "acme:error:caa"),
		strings.Contains(msg, "acme:error:incorrectresponse"):
		return fmt.Errorf("%w: %v", interfaces.ErrChallengeFailed, err)
	case strings.Contains(msg, "acme:error:malformed"),
		strings.Contains(msg, "acme:error:badcsr"),
		strings.Contains(msg, "acme:error:rejectedidentifier"),
		strings.Contains(msg, "acme:error:unsupportedidentifier"),
		strings.Contains(msg, "acme:error:invalidcontact"),
		strings.Contains(msg, "acme:error:externalaccountrequired"):
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidConfig, err)
	case strings.Contains(msg, "could not find solver"),
		strings.Contains(msg, "no solvers available"):
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidConfig, err)
	}

	return fmt.Errorf("%w: %v", interfaces.ErrNetwork, err)
}

// classifyProblem maps an ACME problem document type (RFC 8555 urn) onto a
// sentinel, or nil when the type carries no clear class.
func classifyProblem(problemType string, httpStatus int) error {
	switch {
	case strings.Contains(problemType, "rateLimited") || httpStatus == 429:
		return interfaces.ErrRateLimited
	case strings.Contains(problemType, "unauthorized"),
		strings.Contains(problemType, "connection"),
		strings.Contains(problemType, "dns"),
		strings.Contains(problemType, "caa"),
		strings.Contains(problemType, "incorrectResponse"):
		return interfaces.ErrChallengeFailed
	case strings.Contains(problemType, "malformed"),
		strings.Contains(problemType, "badCSR"),
		strings.Contains(problemType, "rejectedIdentifier"),
		strings.Contains(problemType, "unsupportedIdentifier"),
		strings.Contains(problemType, "invalidContact"),
		strings.Contains(problemType, "externalAccountRequired"):
		return interfaces.ErrInvalidConfig
	default:
		return nil
	}
}
