package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-token-feed/internal/domain"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []string
	channels []string
	failMint string
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	b, _ := message.([]byte)

	var env Envelope
	_ = json.Unmarshal(b, &env)
	var rec domain.TokenRecord
	_ = json.Unmarshal(env.Data, &rec)
	if f.failMint != "" && rec.Mint == f.failMint {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}

	f.mu.Lock()
	f.messages = append(f.messages, string(b))
	f.channels = append(f.channels, channel)
	f.mu.Unlock()
	cmd.SetVal(1)
	return cmd
}

func fixedNow() time.Time { return time.UnixMilli(1700000000000) }

func TestRedisBroadcaster_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	b := NewRedisBroadcaster(pub, "", zap.NewNop())
	b.now = fixedNow

	err := b.UpsertTokens(context.Background(), []domain.TokenRecord{
		{Mint: "m1", Name: "Foo", PriceUSD: 0.001, IsNew: true},
		{Mint: "m2"},
	})
	require.NoError(t, err)

	require.Len(t, pub.messages, 2)
	assert.Equal(t, DefaultRedisChannel, pub.channels[0])

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(pub.messages[0]), &env))
	assert.Equal(t, TypeToken, env.Type)
	assert.Equal(t, int64(1700000000000), env.TS)

	var rec domain.TokenRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, "m1", rec.Mint)
	assert.Equal(t, "Foo", rec.Name)
	assert.Equal(t, 0.001, rec.PriceUSD)
	assert.True(t, rec.IsNew)
}

func TestRedisBroadcaster_ContinuesPastFailure(t *testing.T) {
	pub := &fakePublisher{failMint: "bad"}
	b := NewRedisBroadcaster(pub, "custom", nil)

	err := b.UpsertTokens(context.Background(), []domain.TokenRecord{{Mint: "bad"}, {Mint: "good"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish bad")
	require.Len(t, pub.channels, 1)
	assert.Equal(t, "custom", pub.channels[0])
}

func TestKafkaSink_WriteEvents(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	sink := newKafkaSink(producer, "events")
	sink.now = fixedNow

	price := 0.002
	events := []domain.ChainEvent{
		domain.NewTokenEvent{Mint: "m1", Signature: "s1", Creator: "dev", Source: domain.SourcePumpFun},
		domain.TradeEvent{Mint: "m1", Signature: "s2", Side: domain.SideBuy, AmountSol: 1, Price: &price},
	}

	wantKinds := []string{string(domain.KindNewToken), string(domain.KindTrade)}
	for _, kind := range wantKinds {
		kind := kind
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != "events" {
				return fmt.Errorf("topic = %s", msg.Topic)
			}
			key, err := msg.Key.Encode()
			if err != nil {
				return err
			}
			if string(key) != "m1" {
				return fmt.Errorf("key = %s", key)
			}
			val, err := msg.Value.Encode()
			if err != nil {
				return err
			}
			var env Envelope
			if err := json.Unmarshal(val, &env); err != nil {
				return err
			}
			if env.Type != kind {
				return fmt.Errorf("type = %s, want %s", env.Type, kind)
			}
			return nil
		})
	}

	require.NoError(t, sink.WriteEvents(context.Background(), events))
	require.NoError(t, sink.WriteEvents(context.Background(), nil))
	require.NoError(t, sink.Close())
}

func TestKafkaSink_Failure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	sink := newKafkaSink(producer, "")
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := sink.WriteEvents(context.Background(), []domain.ChainEvent{domain.UpdateEvent{Mint: "m"}})
	require.Error(t, err)
	require.NoError(t, sink.Close())
}

func TestKafkaSink_CanceledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	sink := newKafkaSink(producer, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sink.WriteEvents(ctx, []domain.ChainEvent{domain.UpdateEvent{Mint: "m"}})
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, sink.Close())
}

func TestToPayload_TradeFields(t *testing.T) {
	price := 0.5
	p := toPayload(domain.TradeEvent{Mint: "m", Trader: "t", Side: domain.SideSell, AmountTokens: 10, Price: &price})
	assert.Equal(t, "m", p.Mint)
	assert.Equal(t, domain.SideSell, p.Side)
	assert.Equal(t, 10.0, p.AmountTokens)
	assert.Nil(t, p.Pool)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitCSV(" a:9092, ,b:9092 "))
	assert.Empty(t, splitCSV(""))
}
