package runner

import "io"

// shutdown will close the consumer or producer, the session and then the
// connection. Each close is attempted even if an earlier one failed.
func (r *run) shutdown(res *resources) {
	if res.consumer != nil {
		r.close("Consumer", res.consumer)
	}
	if res.producer != nil {
		r.close("Producer", res.producer)
	}
	if res.sess != nil {
		r.close("Session", res.sess)
	}
	if res.conn != nil {
		r.close("Connection", res.conn)
	}
}

func (r *run) close(resource string, c io.Closer) {
	if err := c.Close(); err != nil {
		Log.Errorf("%s could not be closed.", resource)
		r.metrics.CloseFailures.With("resource", resource).Add(1)
		r.recordFailure(err)
	}
}
