package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

const (
	defaultDialAttempts   = 5
	defaultPublishTimeout = 10 * time.Second
	exchangeKindTopic     = "topic"
)

// channel — подмножество *amqp.Channel, которое нужно брокеру.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// session — открытое соединение вместе с каналом.
type session struct {
	conn interface {
		IsClosed() bool
		Close() error
	}
	ch channel
}

type dialFunc func(url string) (session, error)

// Broker публикует сообщения в durable topic exchange RabbitMQ.
// Exchange объявляется лениво при первой публикации в него.
type Broker struct {
	url    string
	dial   dialFunc
	logger *log.Entry

	mu        sync.Mutex
	sess      session
	declared  map[string]struct{}
	closed    bool
	retryWait time.Duration
}

// Dial подключается к RabbitMQ с несколькими попытками и линейной задержкой.
func Dial(url string, logger *log.Entry) (*Broker, error) {
	b := newBroker(url, dialAMQP, logger)
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.connectLocked(defaultDialAttempts); err != nil {
		return nil, err
	}
	return b, nil
}

func newBroker(url string, dial dialFunc, logger *log.Entry) *Broker {
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-broker")
	}
	return &Broker{
		url:       url,
		dial:      dial,
		logger:    logger,
		declared:  make(map[string]struct{}),
		retryWait: 2 * time.Second,
	}
}

func dialAMQP(url string) (session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return session{}, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return session{}, fmt.Errorf("open channel: %w", err)
	}
	return session{conn: conn, ch: ch}, nil
}

func (b *Broker) connectLocked(attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		var sess session
		sess, err = b.dial(b.url)
		if err == nil {
			b.sess = sess
			b.declared = make(map[string]struct{})
			return nil
		}
		if i < attempts-1 {
			wait := time.Duration(i+1) * b.retryWait
			b.logger.WithError(err).WithField("retry_in", wait).Warn("rabbitmq connection failed, retrying")
			time.Sleep(wait)
		}
	}
	return fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", attempts, err)
}

// Publish отправляет persistent JSON-сообщение. Разорванное соединение
// восстанавливается одной попыткой, повторы публикации выполняет вызывающий.
func (b *Broker) Publish(ctx context.Context, msg domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("rabbitmq broker is closed")
	}
	if b.sess.conn == nil || b.sess.conn.IsClosed() {
		b.closeSessionLocked()
		if err := b.connectLocked(1); err != nil {
			return fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	if err := b.declareLocked(msg.Exchange); err != nil {
		b.dropBrokenSessionLocked(err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	err := b.sess.ch.PublishWithContext(ctx, msg.Exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Key,
		Timestamp:    time.Now(),
		Body:         msg.Body,
	})
	if err != nil {
		b.logger.WithError(err).WithFields(log.Fields{
			"exchange":    msg.Exchange,
			"routing_key": msg.RoutingKey,
		}).Error("failed to publish message to rabbitmq")
		b.dropBrokenSessionLocked(err)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	b.logger.WithFields(log.Fields{
		"exchange":     msg.Exchange,
		"routing_key":  msg.RoutingKey,
		"message_size": len(msg.Body),
	}).Debug("message published to rabbitmq")
	return nil
}

// dropBrokenSessionLocked закрывает сессию, если сервер закрыл канал
// (amqp.ErrClosed или исключение AMQP). Открытое соединение с мёртвым каналом
// иначе отклоняло бы все последующие публикации; следующий Publish переподключится.
func (b *Broker) dropBrokenSessionLocked(err error) {
	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) {
		return
	}
	b.logger.WithError(err).Warn("rabbitmq channel is closed, session will be reopened")
	_ = b.closeSessionLocked()
	b.declared = make(map[string]struct{})
}

func (b *Broker) declareLocked(exchange string) error {
	if _, ok := b.declared[exchange]; ok {
		return nil
	}
	if err := b.sess.ch.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	b.declared[exchange] = struct{}{}
	return nil
}

// Ping сообщает, живо ли соединение. Используется readiness-проверкой.
func (b *Broker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.sess.conn == nil || b.sess.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Close закрывает канал и соединение. Повторный вызов безопасен.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return b.closeSessionLocked()
}

func (b *Broker) closeSessionLocked() error {
	var err error
	if b.sess.ch != nil {
		_ = b.sess.ch.Close()
	}
	if b.sess.conn != nil && !b.sess.conn.IsClosed() {
		err = b.sess.conn.Close()
	}
	b.sess = session{}
	return err
}

var _ domain.Broker = (*Broker)(nil)
