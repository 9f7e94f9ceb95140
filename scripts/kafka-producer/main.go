package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	ctfkafka "github.com/CDeX-Labs/CDeX-CTF-Core/internal/kafka"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
)

// Publishes one administrative event so the live feed can be tried locally:
//
//	kafka-producer status running
//	kafka-producer system warning "Ten minutes left"
//	kafka-producer admin challenge_reported "web-1 is down"
func main() {
	_ = godotenv.Load()

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}

	if len(os.Args) < 3 {
		fmt.Println("usage: kafka-producer status|system|admin <value> [message]")
		os.Exit(1)
	}

	topic, event, err := buildEvent(os.Args[1], os.Args[2], strings.Join(os.Args[3:], " "))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(brokers, ",")...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer writer.Close()

	data, err := json.Marshal(event)
	if err != nil {
		fmt.Printf("Error marshaling event: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := writer.WriteMessages(ctx, kafka.Message{Value: data}); err != nil {
		fmt.Printf("Error writing to Kafka: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sent to %s: %s\n", topic, data)
}

func buildEvent(kind, value, message string) (string, map[string]interface{}, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	switch kind {
	case "status":
		return ctfkafka.TopicCompetitionStatus, map[string]interface{}{"status": value, "timestamp": now}, nil
	case "system":
		return ctfkafka.TopicSystemMessage, map[string]interface{}{"type": value, "message": message, "timestamp": now}, nil
	case "admin":
		return ctfkafka.TopicAdminNotification, map[string]interface{}{"type": value, "message": message, "timestamp": now}, nil
	default:
		return "", nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
