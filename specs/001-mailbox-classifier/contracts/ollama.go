package contracts

// Local model endpoint contract.
//
// Library: net/http against the Ollama REST API, golang.org/x/time/rate
// for throttling.
//
// One operation: POST {base_url}/api/generate with stream=false, body
// {"model": ..., "prompt": ...}, response field "response" trimmed of
// surrounding whitespace. An empty trimmed response is an error distinct
// from transport failure so callers can tell "model said nothing" from
// "endpoint down". Requests share a burst-1 rate limiter and a per-request
// timeout from config; the limiter wait respects the caller's context.
//
// Prompt kinds built on top of Generate:
//
//	classify   -> one message summary + the folder set with descriptions;
//	              expects {"predicted_folder", "confidence", "labels"}.
//	suggest    -> a batch of message summaries; expects a JSON array of
//	              {"name", "description"} folder proposals.
//	refine     -> existing folders + a new batch; expects {"categories",
//	              "assignments"} merging new proposals into the set.
//	normalize  -> the full category list; expects {"mappings"} renaming
//	              near-duplicates onto canonical names.
//	describe   -> one folder name + samples; expects a one-line
//	              description, plain text.
//	repair     -> a malformed payload from any of the above; expects the
//	              same payload as valid JSON.
//
// JSON recovery is three tiers and at most one extra request: decode the
// response directly; failing that, decode the widest {...} or [...] span;
// failing that, send one repair prompt (input capped at 2000 bytes) and
// decode its output through the first two tiers only. Whatever survives is
// validated against the known folder set; any substitution along the way
// zeroes the reported confidence so auto-move never acts on a guess.
//
// Degradation: suggest falls back to a single catch-all folder proposal,
// refine keeps the existing set untouched, normalize keeps identity
// mappings for anything the repair did not recover. Classification of an
// empty folder set fails fast without a request.
