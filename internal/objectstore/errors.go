package objectstore

import (
	"fmt"

	"github.com/withObsrvr/exchange-ingest/internal/ingesterr"
)

func notFoundErr(key string, cause error) *ingesterr.Error {
	return ingesterr.NotFound(fmt.Sprintf("object %q not found", key), cause)
}

func transientErr(key string, cause error) *ingesterr.Error {
	return ingesterr.TransientIO(fmt.Sprintf("object %q: transient read failure", key), cause)
}

func dataMalformedErr(key string, cause error) *ingesterr.Error {
	return ingesterr.DataMalformed(fmt.Sprintf("object %q", key), cause)
}
