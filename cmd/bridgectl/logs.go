package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/urfave/cli/v2"

	"github.com/kstaniek/go-osc-bridge/internal/client"
	"github.com/kstaniek/go-osc-bridge/internal/logging"
)

// publisher forwards device logs; backed by MQTT.
type publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

type mqttPublisher struct{ c paho.Client }

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	tok := p.c.Publish(topic, 0, false, payload)
	if !tok.WaitTimeout(5 * time.Second) {
		return errors.New("mqtt publish timeout")
	}
	return tok.Error()
}

func (p *mqttPublisher) Close() { p.c.Disconnect(250) }

// newPublisher connects to broker; swapped in tests.
var newPublisher = defaultPublisher

func defaultPublisher(broker, clientID string) (publisher, error) {
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = fmt.Sprintf("bridgectl-%s-%d", host, os.Getpid())
	}
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetCleanSession(true)
	c := paho.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(30 * time.Second) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	return &mqttPublisher{c: c}, nil
}

// logRecord is the MQTT payload for one device log entry.
type logRecord struct {
	Time  time.Time `json:"time"`
	Level string    `json:"level"`
	Text  string    `json:"text"`
	Raw   bool      `json:"raw,omitempty"`
}

func logsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Stream device log notifications",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "duration", Usage: "Stop after this long (0 = until the link closes)"},
			&cli.DurationFlag{Name: "heartbeat", Value: 5 * time.Second, Usage: "Heartbeat interval towards the device (0 disables)"},
			&cli.StringFlag{Name: "mqtt-broker", Usage: "Also publish entries to this MQTT broker (e.g. tcp://localhost:1883)", EnvVars: []string{"BRIDGECTL_MQTT_BROKER"}},
			&cli.StringFlag{Name: "mqtt-topic", Value: "osc-bridge/logs", Usage: "MQTT topic prefix; the level is appended"},
			&cli.StringFlag{Name: "mqtt-client-id", Usage: "MQTT client id (default bridgectl-<host>-<pid>)"},
		},
		Action: logsAction,
	}
}

func logsAction(c *cli.Context) error {
	var pub publisher
	if broker := c.String("mqtt-broker"); broker != "" {
		p, err := newPublisher(broker, c.String("mqtt-client-id"))
		if err != nil {
			return err
		}
		defer p.Close()
		pub = p
	}
	topic := c.String("mqtt-topic")
	return withClient(c, func(ctx context.Context, cl *client.Client) error {
		if d := c.Duration("duration"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		entries := make(chan client.LogEntry, 64)
		cl.OnLog(func(e client.LogEntry) {
			select {
			case entries <- e:
			default:
				logging.L().Warn("log_entry_dropped", "level", e.Level)
			}
		})
		var hb <-chan time.Time
		if d := c.Duration("heartbeat"); d > 0 {
			t := time.NewTicker(d)
			defer t.Stop()
			hb = t.C
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-cl.Done():
				return cl.Err()
			case <-hb:
				if err := cl.Heartbeat(); err != nil {
					return err
				}
			case e := <-entries:
				fmt.Fprintf(c.App.Writer, "[%s] %s\n", e.Level, e.Text)
				if pub == nil {
					continue
				}
				payload, _ := json.Marshal(logRecord{Time: time.Now().UTC(), Level: e.Level, Text: e.Text, Raw: e.Raw})
				if err := pub.Publish(topic+"/"+e.Level, payload); err != nil {
					logging.L().Warn("mqtt_publish_failed", "error", err)
				}
			}
		}
	})
}
