package nop_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/eventstream/nop"
)

var _ = Describe("Publisher", func() {
	It("discards events by default", func() {
		p := nop.New()
		Expect(p.Publish(context.Background(), eventstream.Stored("u1", "m1"))).To(Succeed())
		Expect(p.Events()).To(BeEmpty())
	})

	It("records events when created recording", func() {
		p := nop.NewRecording()
		Expect(p.Publish(context.Background(), eventstream.Stored("u1", "m1"))).To(Succeed())
		Expect(p.Publish(context.Background(), eventstream.Superseded("u1", "m2", "m1"))).To(Succeed())

		events := p.Events()
		Expect(events).To(HaveLen(2))
		Expect(events[0].Kind).To(Equal(eventstream.KindMemoryStored))
		Expect(events[0].SchemaVersion).To(Equal(eventstream.SchemaVersion))
		Expect(events[1].SupersededID).To(Equal("m1"))
	})
})
