package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/pubsub"
)

// Prompt is written before every line the producer reads.
const Prompt = "Enter some text to be sent in a message <ENTER to finish>:"

// produce will send each line read from in as a message of its own
// transaction until the input ends or a blank line is read.
func (r *run) produce(ctx context.Context, p pubsub.Provider, cfg *config.Config, in io.Reader, out io.Writer) {
	res := &resources{}
	defer r.shutdown(res)

	if err := connect(ctx, p, cfg, pubsub.Transacted, res); err != nil {
		r.recordFailure(err)
		return
	}
	prod, err := res.sess.NewProducer(ctx, cfg.Destination())
	if err != nil {
		r.recordFailure(err)
		return
	}
	res.producer = prod

	if err := res.conn.Start(ctx); err != nil {
		r.recordFailure(err)
		return
	}
	if err := r.produceLoop(ctx, bufio.NewReader(in), out, res.sess, prod); err != nil {
		r.recordFailure(err)
		return
	}
	r.recordSuccess()
}

func (r *run) produceLoop(ctx context.Context, in *bufio.Reader, out io.Writer, sess pubsub.Session, prod pubsub.Producer) error {
	for {
		fmt.Fprint(out, Prompt)

		line, err := in.ReadString('\n')
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "unable to read input")
		}
		eof := err == io.EOF
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			return nil
		}

		msg := pubsub.NewTextMessage(line)
		if err := prod.Send(ctx, msg); err != nil {
			return err
		}
		r.metrics.Sent.Add(1)
		fmt.Fprintf(out, "Sent message:\n%s\n", msg)

		if err := sess.Commit(ctx); err != nil {
			return err
		}
		r.metrics.Commits.Add(1)

		if eof {
			return nil
		}
	}
}
