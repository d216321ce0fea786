package metrics

import "actsasversioned/pkg/versioning"

// VersioningObserver is the metrics sink handed to the versioning engine.
type VersioningObserver interface {
	versioning.Observer
}
