package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/accord/pkg/eventstream"
	"github.com/papercomputeco/accord/pkg/eventstream/kafka"
	"github.com/papercomputeco/accord/pkg/pao"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

var _ = Describe("Publisher", func() {
	now := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	event := eventstream.NewAgreementEvent(pao.Event{
		Seq:     7,
		Subject: "agr_abc",
		Kind:    pao.EventRulingIssued,
		Actor:   "did:agent:test:carol",
		At:      now,
	}, eventstream.EventSource{Service: "accord"}, now)

	It("keys messages by subject and carries the JSON envelope", func() {
		w := &fakeWriter{}
		p := kafka.NewPublisherWithWriter(w)

		Expect(p.Publish(context.Background(), event)).To(Succeed())
		Expect(w.msgs).To(HaveLen(1))

		msg := w.msgs[0]
		Expect(string(msg.Key)).To(Equal("agr_abc"))
		Expect(msg.Headers).To(ContainElement(kafkago.Header{Key: "event_kind", Value: []byte("ruling_issued")}))

		var decoded eventstream.AgreementEvent
		Expect(json.Unmarshal(msg.Value, &decoded)).To(Succeed())
		Expect(decoded.Event.Seq).To(Equal(int64(7)))
	})

	It("rejects nil events", func() {
		p := kafka.NewPublisherWithWriter(&fakeWriter{})
		Expect(p.Publish(context.Background(), nil)).To(MatchError(eventstream.ErrNilEvent))
	})

	It("wraps writer failures", func() {
		p := kafka.NewPublisherWithWriter(&fakeWriter{err: errors.New("leader not available")})
		Expect(p.Publish(context.Background(), event)).To(MatchError(ContainSubstring("leader not available")))
	})

	It("closes the writer", func() {
		w := &fakeWriter{}
		Expect(kafka.NewPublisherWithWriter(w).Close()).To(Succeed())
		Expect(w.closed).To(BeTrue())
	})

	It("validates configuration", func() {
		_, err := kafka.NewPublisher(kafka.Config{Topic: "accord"})
		Expect(err).To(HaveOccurred())
		_, err = kafka.NewPublisher(kafka.Config{Brokers: []string{"localhost:9092"}})
		Expect(err).To(HaveOccurred())

		p, err := kafka.NewPublisher(kafka.Config{Brokers: []string{"localhost:9092"}, Topic: "accord"})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Close()).To(Succeed())
	})
})
