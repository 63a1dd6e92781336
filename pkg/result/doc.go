/*
Package result defines the closed outcome taxonomy and the uniform response
envelope returned by every stageflow use case.

Every failure path resolves to exactly one Kind:

	VALIDATION_FAILED(stage)   a validation stage rejected the request
	NOT_FOUND                  a referenced entity does not exist
	DUPLICATE                  the write already exists
	UPSTREAM_UNAVAILABLE       transient upstream failure, retries exhausted
	UPSTREAM_REJECTED          permanent upstream failure, never retried
	PARTIAL_WRITE_FAILURE      a two-step write failed (completed, failed, compensated)
	INTERNAL                   unexpected fault

# Envelopes

	env := result.OK(site, "site loaded")
	env := result.Fail[Site](result.ValidationFailed("auth"), "please log in")

Each non-success envelope carries a human message separate from the
machine-readable ErrorKind.

# Errors

Components below the orchestrator return *Error, which carries an ErrorKind
and implements the platform error interface from github.com/jmgilman/go/errors:

	return result.NewError(result.UpstreamRejected(), "malformed response", err)

Classify maps arbitrary errors (platform errors, context errors) onto the
taxonomy.
*/
package result
