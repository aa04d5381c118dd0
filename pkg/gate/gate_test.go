package gate_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/gate"
)

var _ = Describe("Gate", func() {
	var g *gate.Gate

	BeforeEach(func() {
		g = gate.New(gate.Config{})
	})

	Describe("Check", func() {
		It("rejects acknowledgements", func() {
			for _, msg := range []string{"ok", "OK", "thanks", "Thanks!", "got it", "yep", "ty"} {
				pass, score := g.Check(msg, nil)
				Expect(pass).To(BeFalse(), "message %q should not pass", msg)
				Expect(score).To(BeNumerically("==", 0))
			}
		})

		It("rejects empty and whitespace input", func() {
			pass, score := g.Check("   ", nil)
			Expect(pass).To(BeFalse())
			Expect(score).To(BeNumerically("==", 0))
		})

		It("passes commitment language", func() {
			pass, _ := g.Check("I'll send the report to Sarah by Friday", nil)
			Expect(pass).To(BeTrue())
		})

		It("passes personal references", func() {
			pass, _ := g.Check("my doctor said I should cut down on caffeine", nil)
			Expect(pass).To(BeTrue())
		})

		It("passes preference statements", func() {
			pass, _ := g.Check("I prefer tea over coffee in the mornings", nil)
			Expect(pass).To(BeTrue())
		})

		It("passes messages introducing new capitalized entities", func() {
			pass, _ := g.Check("we should loop in Marcus from the Atlas team on this", nil)
			Expect(pass).To(BeTrue())
		})

		It("passes a message whose only signal is a single new entity", func() {
			pass, score := g.Check("I met Sandra at the market today", nil)
			Expect(pass).To(BeTrue(), "score was %v", score)
		})

		It("skips entities already present in recent context", func() {
			ctx := []string{"talked to Marcus yesterday", "the Atlas team shipped"}
			_, withCtx := g.Check("we should ask Marcus about Atlas again soon ok", ctx)
			_, without := g.Check("we should ask Marcus about Atlas again soon ok", nil)
			Expect(withCtx).To(BeNumerically("<", without))
		})

		It("clamps scores to [0,1]", func() {
			msg := "I'll remind me my wife Sarah prefers tea, deadline Friday, " +
				"my doctor Marcus at Northwell on March 3rd, I must call Dana " + strings.Repeat("x", 100)
			_, score := g.Check(msg, nil)
			Expect(score).To(BeNumerically("<=", 1.0))
			Expect(score).To(BeNumerically(">=", 0.0))
		})
	})

	Describe("New", func() {
		It("honors a custom threshold", func() {
			strict := gate.New(gate.Config{Threshold: 0.9})
			pass, _ := strict.Check("I prefer tea over coffee", nil)
			Expect(pass).To(BeFalse())
		})

		It("defaults the threshold when unset", func() {
			Expect(gate.New(gate.Config{}).Threshold()).To(Equal(gate.DefaultThreshold))
		})
	})
})
