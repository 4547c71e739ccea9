package kafka

import (
	"context"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/models"
)

func testBatch(disposition models.WriteDisposition, first bool) *models.Batch {
	var key []string
	if disposition == models.DispositionMerge {
		key = []string{"ad_group__id"}
	}
	b := &models.Batch{Resource: "ad_group", CustomerID: "77", Disposition: disposition, MergeKey: key, First: first}
	b.Add(models.NewRecord("ad_group", "77", key, map[string]any{"ad_group__id": "5"}))
	return b
}

func producer(t *testing.T) *mocks.SyncProducer {
	sc, err := ProducerConfig(config.KafkaConfig{})
	require.NoError(t, err)
	return mocks.NewSyncProducer(t, sc)
}

func TestWritePublishesKeyedMessages(t *testing.T) {
	p := producer(t)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var m Message
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		if m.CustomerID != "77" || m.Data["ad_group__id"] != "5" {
			return fmt.Errorf("unexpected message %s", val)
		}
		return nil
	})

	s := NewWithProducer(p, "gads.")
	assert.Equal(t, "gads.ad_group", s.Topic("ad_group"))
	require.NoError(t, s.Write(context.Background(), testBatch(models.DispositionMerge, true)))
	require.NoError(t, s.Close(context.Background()))
}

func TestReplaceSendsResetFirst(t *testing.T) {
	p := producer(t)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var m Message
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		if m.Data != nil {
			return fmt.Errorf("reset message carries data")
		}
		return nil
	})
	p.ExpectSendMessageAndSucceed()

	s := NewWithProducer(p, "")
	require.NoError(t, s.Write(context.Background(), testBatch(models.DispositionReplace, true)))
	require.NoError(t, s.Close(context.Background()))
}

func TestWriteFailure(t *testing.T) {
	p := producer(t)
	p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := NewWithProducer(p, "")
	err := s.Write(context.Background(), testBatch(models.DispositionAppend, false))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	require.NoError(t, s.Close(context.Background()))
}

func TestMessageHeaders(t *testing.T) {
	s := NewWithProducer(nil, "")
	m, err := s.message("t", testBatch(models.DispositionAppend, false), OpUpsert, "k", Message{})
	require.NoError(t, err)
	require.Len(t, m.Headers, 4)
	assert.Equal(t, HeaderOp, string(m.Headers[3].Key))
	assert.Equal(t, OpUpsert, string(m.Headers[3].Value))
}

func TestProducerConfig(t *testing.T) {
	sc, err := ProducerConfig(config.KafkaConfig{Compression: "zstd", ClientID: "ads-loader"})
	require.NoError(t, err)
	assert.Equal(t, sarama.CompressionZSTD, sc.Producer.Compression)
	assert.Equal(t, "ads-loader", sc.ClientID)
	assert.True(t, sc.Producer.Idempotent)

	_, err = ProducerConfig(config.KafkaConfig{Compression: "brotli"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
