package mq

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/IBM/sarama"
)

// DispatchedEvent 已定序消息的索引摘要：只承载离线索引需要的字段，
// 不搬运消息内容。消费侧据此维护 user_conversations。
type DispatchedEvent struct {
	ConvID      string `json:"convId"`
	ConvType    string `json:"convType"`
	Seq         int64  `json:"seq"`
	From        string `json:"from"`
	ServerMsgID string `json:"serverMsgId"`
	Timestamp   int64  `json:"timestamp"`
}

// DispatchExporter 把分发事件异步导出到 Kafka。
// - key=convId：同会话进同分区，消费侧看到的 seq 单调
// - 本地落盘确认（WaitForLocal）即返回，导出不在实时投递路径上
type DispatchExporter struct {
	producer sarama.AsyncProducer
	topic    string
}

func NewDispatchExporter(brokersCSV, topic string) (*DispatchExporter, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	p, err := sarama.NewAsyncProducer(strings.Split(brokersCSV, ","), cfg)
	if err != nil {
		return nil, err
	}
	e := &DispatchExporter{producer: p, topic: topic}
	go e.drainErrors()
	return e, nil
}

func (e *DispatchExporter) drainErrors() {
	for err := range e.producer.Errors() {
		log.Printf("dispatch export error: topic=%s err=%v", e.topic, err)
	}
}

// Export 入队一条分发事件；exporter 未配置时为空操作。
func (e *DispatchExporter) Export(ev *DispatchedEvent) {
	if e == nil || e.producer == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	e.producer.Input() <- &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(ev.ConvID),
		Value: sarama.ByteEncoder(b),
	}
}

func (e *DispatchExporter) Close() error {
	if e == nil || e.producer == nil {
		return nil
	}
	return e.producer.Close()
}
