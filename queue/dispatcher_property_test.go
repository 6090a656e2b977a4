package queue

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDispatcher_RoundRobinFairnessProperty checks spec invariant 7: across
// any window containing at least one message on each stream, both are
// consumed — the dispatcher never serves one stream twice in a row while
// the other still has a message waiting.
func TestDispatcher_RoundRobinFairnessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no stream is starved while the other has a pending message", prop.ForAll(
		func(trainN, genN int) bool {
			training := make(chan *Message, trainN)
			generation := make(chan *Message, genN)
			for i := 0; i < trainN; i++ {
				training <- makeMsg("train")
			}
			for i := 0; i < genN; i++ {
				generation <- makeMsg("gen")
			}

			d := NewDispatcher(training, generation)
			ctx := context.Background()

			remaining := map[string]int{"train": trainN, "gen": genN}
			lastServed := ""
			for remaining["train"]+remaining["gen"] > 0 {
				msg, err := d.Next(ctx)
				if err != nil {
					return false
				}
				served := msg.Envelope.JobID
				other := "gen"
				if served == "gen" {
					other = "train"
				}
				if lastServed == served && remaining[other] > 0 {
					return false
				}
				remaining[served]--
				lastServed = served
			}
			return true
		},
		gen.IntRange(0, 15),
		gen.IntRange(0, 15),
	))

	properties.TestingRun(t)
}
