package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	klog "github.com/Klingon-tech/p2p-helper/internal/log"
)

// validationTimeout is the window the host has to answer a validate upcall
// before the libp2p validator must return on its own (spec §4.7, §6).
const validationTimeout = 5 * time.Minute

// verdict is the three-valued answer a host gives to a pending validation.
type verdict string

const (
	verdictAccept verdict = "accept"
	verdictReject verdict = "reject"
	verdictIgnore verdict = "ignore"
)

type validationTicket struct {
	seqno      int64
	completion chan verdict
	timedOut   bool
}

// validatorTable is the mutex-guarded seqno -> ticket map (spec §3
// "Validation ticket"), grounded on the teacher's banmanager.go
// mutex-guarded-map idiom.
type validatorTable struct {
	mu      sync.Mutex
	tickets map[int64]*validationTicket
}

func newValidatorTable() *validatorTable {
	return &validatorTable{tickets: make(map[int64]*validationTicket)}
}

func (t *validatorTable) allocate(seqno int64) *validationTicket {
	ticket := &validationTicket{seqno: seqno, completion: make(chan verdict, 1)}
	t.mu.Lock()
	t.tickets[seqno] = ticket
	t.mu.Unlock()
	return ticket
}

func (t *validatorTable) remove(seqno int64) {
	t.mu.Lock()
	delete(t.tickets, seqno)
	t.mu.Unlock()
}

func (t *validatorTable) markTimedOut(seqno int64) {
	t.mu.Lock()
	if ticket, ok := t.tickets[seqno]; ok {
		ticket.timedOut = true
	}
	t.mu.Unlock()
}

// Complete implements validationComplete: look up and remove the ticket,
// then deliver the verdict over its completion channel. A timed-out ticket
// is still in the table (markTimedOut does not remove it), so a late answer
// is accepted rather than reported as an unknown seqno; its verdict is
// buffered in the channel and no longer read by the validator.
func (t *validatorTable) Complete(seqno int64, isValid string) error {
	t.mu.Lock()
	ticket, ok := t.tickets[seqno]
	if ok {
		delete(t.tickets, seqno)
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("internal RPC error: validation seqno unknown: %d", seqno)
	}

	select {
	case ticket.completion <- verdict(isValid):
	default:
	}
	return nil
}

type subscription struct {
	idx    int64
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	cancel context.CancelFunc
}

// subscriptions is mutated only by the dispatcher goroutine (spec §5), so
// it needs no lock of its own beyond what the dispatcher already
// serializes.
type subscriptions struct {
	byIdx map[int64]*subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{byIdx: make(map[int64]*subscription)}
}

// Subscribe joins topicName, registers the host-round-trip validator, and
// starts the consumer loop (spec §4.7).
func (n *Node) Subscribe(ctx context.Context, topicName string, subIdx int64) error {
	topic, err := n.pubsub.Join(topicName)
	if err != nil {
		return fmt.Errorf("libp2p error: join topic %q: %w", topicName, err)
	}

	err = n.pubsub.RegisterTopicValidator(topicName, n.makeValidator(subIdx))
	if err != nil {
		return fmt.Errorf("libp2p error: register validator for %q: %w", topicName, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("libp2p error: subscribe %q: %w", topicName, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	n.subs.byIdx[subIdx] = &subscription{idx: subIdx, topic: topic, sub: sub, cancel: cancel}

	go n.consumeLoop(subCtx, sub)

	return nil
}

// consumeLoop drains the already-validated message stream. It intentionally
// does not re-emit content: the host already received the payload inside
// the validate upcall (spec §9 "Suppressed post-validation delivery").
func (n *Node) consumeLoop(ctx context.Context, sub *pubsub.Subscription) {
	for {
		_, err := sub.Next(ctx)
		if err != nil {
			return
		}
	}
}

// Unsubscribe cancels the subscription and its consumer; the ticket table
// is left untouched so outstanding validations remain answerable (spec
// §4.7).
func (n *Node) Unsubscribe(subIdx int64) error {
	s, ok := n.subs.byIdx[subIdx]
	if !ok {
		return fmt.Errorf("internal RPC error: unknown subscription_idx %d", subIdx)
	}
	delete(n.subs.byIdx, subIdx)
	s.sub.Cancel()
	s.cancel()
	if err := s.topic.Close(); err != nil {
		klog.Pubsub.Debug().Err(err).Msg("topic close after unsubscribe")
	}
	return nil
}

// Publish hands data to gossipsub on topicName. Fails if the DHT is not yet
// up (spec invariant 6 — enforced by callers checking Configure happened).
func (n *Node) Publish(ctx context.Context, topicName string, data []byte) error {
	topic, err := n.pubsub.Join(topicName)
	if err != nil {
		return fmt.Errorf("libp2p error: join topic %q: %w", topicName, err)
	}
	if err := topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("libp2p error: publish to %q: %w", topicName, err)
	}
	return nil
}

// ValidationComplete implements validationComplete.
func (n *Node) ValidationComplete(seqno int64, isValid string) error {
	return n.vtable.Complete(seqno, isValid)
}

func (n *Node) makeValidator(subIdx int64) pubsub.ValidatorEx {
	return func(ctx context.Context, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
		if from == n.host.ID() {
			return pubsub.ValidationAccept
		}

		ticketSeqno := n.seq.Next()
		ticket := n.vtable.allocate(ticketSeqno)

		sender, err := n.resolvePeerInfo(from)
		if err != nil {
			if !n.unsafeIP {
				n.vtable.remove(ticketSeqno)
				return pubsub.ValidationIgnore
			}
			sender = PeerInfo{PeerID: from.String()}
		}

		n.upcalls.Emit(validateUpcall{
			Upcall:          "validate",
			Sender:          sender,
			Data:            msg.Data,
			Seqno:           ticketSeqno,
			SubscriptionIdx: subIdx,
		})

		select {
		case v := <-ticket.completion:
			return mapVerdict(v)
		case <-time.After(validationTimeout):
			n.vtable.markTimedOut(ticketSeqno)
			if n.unsafeIP {
				return pubsub.ValidationAccept
			}
			return pubsub.ValidationReject
		}
	}
}

func mapVerdict(v verdict) pubsub.ValidationResult {
	switch v {
	case verdictAccept:
		return pubsub.ValidationAccept
	case verdictReject:
		return pubsub.ValidationReject
	default:
		return pubsub.ValidationIgnore
	}
}

type validateUpcall struct {
	Upcall          string   `json:"upcall"`
	Sender          PeerInfo `json:"sender"`
	Data            []byte   `json:"data"`
	Seqno           int64    `json:"seqno"`
	SubscriptionIdx int64    `json:"subscription_idx"`
}
