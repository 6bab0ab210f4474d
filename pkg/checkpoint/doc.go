// Package checkpoint persists run progress in Redis so a halted batch run can
// be resumed with its cumulative counters, and a paginated download can be
// resumed from the last cursor it recorded.
package checkpoint
