package mongostore

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect 连接 MongoDB，并从 URI 路径提取数据库名（默认 msgsync）。
func Connect(uri string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	dbName := "msgsync"
	if idx := strings.LastIndexByte(uri, '/'); idx > 0 && idx < len(uri)-1 {
		name := uri[idx+1:]
		if q := strings.IndexByte(name, '?'); q >= 0 {
			name = name[:q]
		}
		if name != "" && !strings.Contains(name, "@") {
			dbName = name
		}
	}
	return client.Database(dbName), nil
}
