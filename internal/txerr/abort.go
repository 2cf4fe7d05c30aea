package txerr

import "go.uber.org/zap"

// Abort logs err at fatal level and terminates the process. Spec §7
// requires fatal programming errors (anti-quorum >= replication factor,
// impossible placement, subsequence 0 in pushed data) to abort rather than
// be handled as a recoverable error.
func Abort(logger *zap.Logger, err *LogError) {
	fields := make([]zap.Field, 0, len(err.Details)+1)
	fields = append(fields, zap.String("code", err.Code.String()))
	for k, v := range err.Details {
		fields = append(fields, zap.Any(k, v))
	}
	logger.Fatal(err.Error(), fields...)
}
