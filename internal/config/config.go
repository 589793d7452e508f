package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	TCPAddr    string `yaml:"tcpAddr"`
	RedisAddr  string `yaml:"redisAddr"`
	RedisDB    int    `yaml:"redisDB"`
	RedisPass  string `yaml:"redisPass"`
	MySQLDSN   string `yaml:"mysqlDSN"`
	MongoURI   string `yaml:"mongoURI"`
	JWTSecret  string `yaml:"jwtSecret"`

	// 消息存储选择：mysql 或 mongodb（本地默认 mysql）
	MessageDB string `yaml:"messageDB"`

	// Kafka 配置（可选，用于导出分发事件给索引消费者）
	KafkaBrokers      string `yaml:"kafkaBrokers"` // 逗号分隔
	KafkaMessageTopic string `yaml:"kafkaMessageTopic"`

	// 核心参数
	TypingTTLMS      int `yaml:"typingTTLMS"`      // 输入中状态过期窗口（毫秒）
	PersistTimeoutMS int `yaml:"persistTimeoutMS"` // submit 持久化等待上限（毫秒）
	ConnSendBuffer   int `yaml:"connSendBuffer"`   // 单连接下行队列深度

	// 速率限制（WS 发送）
	WSSendQPS   int `yaml:"wsSendQPS"`
	WSSendBurst int `yaml:"wsSendBurst"`

	// 指标开关
	EnableMetrics bool `yaml:"enableMetrics"`
}

func Load() *Config {
	// 1) 默认值
	cfg := &Config{
		ListenAddr: ":8080",
		TCPAddr:    "",
		RedisAddr:  "127.0.0.1:6379",
		RedisPass:  "",
		MySQLDSN:   "root:password@tcp(127.0.0.1:3306)/msgsync?parseTime=true&loc=Local&charset=utf8mb4",
		MongoURI:   "mongodb://127.0.0.1:27017/msgsync",
		JWTSecret:  "change-me-in-prod",

		MessageDB: "mysql",

		KafkaBrokers:      "",
		KafkaMessageTopic: "msgsync-dispatched",

		TypingTTLMS:      3000,
		PersistTimeoutMS: 2000,
		ConnSendBuffer:   256,

		WSSendQPS:     20,
		WSSendBurst:   40,
		EnableMetrics: true,
	}

	// 2) YAML 覆盖（如果有）
	configPath := getEnv("IMSYNC_CONFIG_FILE", getEnv("CONFIG_FILE", "config.yml"))
	if st, err := os.Stat(configPath); err == nil && !st.IsDir() {
		if data, err2 := os.ReadFile(configPath); err2 == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	// 3) 环境变量覆盖 YAML
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	setStr := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(env string, dst *bool) {
		if v := os.Getenv(env); v != "" {
			*dst = (v == "true" || v == "1" || v == "yes")
		}
	}

	setStr("IMSYNC_LISTEN_ADDR", &cfg.ListenAddr)
	setStr("IMSYNC_TCP_ADDR", &cfg.TCPAddr)
	setStr("IMSYNC_REDIS_ADDR", &cfg.RedisAddr)
	setStr("IMSYNC_REDIS_PASS", &cfg.RedisPass)
	setInt("IMSYNC_REDIS_DB", &cfg.RedisDB)
	setStr("IMSYNC_MYSQL_DSN", &cfg.MySQLDSN)
	setStr("IMSYNC_MONGO_URI", &cfg.MongoURI)
	setStr("IMSYNC_JWT_SECRET", &cfg.JWTSecret)

	setStr("IMSYNC_MESSAGE_DB", &cfg.MessageDB)

	setStr("IMSYNC_KAFKA_BROKERS", &cfg.KafkaBrokers)
	setStr("IMSYNC_KAFKA_MESSAGE_TOPIC", &cfg.KafkaMessageTopic)

	setInt("IMSYNC_TYPING_TTL_MS", &cfg.TypingTTLMS)
	setInt("IMSYNC_PERSIST_TIMEOUT_MS", &cfg.PersistTimeoutMS)
	setInt("IMSYNC_CONN_SEND_BUFFER", &cfg.ConnSendBuffer)

	setInt("IMSYNC_WS_SEND_QPS", &cfg.WSSendQPS)
	setInt("IMSYNC_WS_SEND_BURST", &cfg.WSSendBurst)
	setBool("IMSYNC_ENABLE_METRICS", &cfg.EnableMetrics)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
