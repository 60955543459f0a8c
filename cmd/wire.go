package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/go-redis/redis/v8"
	"restaurant-service/internal/config"
	"restaurant-service/internal/events"
	"restaurant-service/internal/idempotency"
	"restaurant-service/internal/lock"
	"restaurant-service/internal/repository"
	"restaurant-service/internal/repository/memory"
	"restaurant-service/internal/repository/mysql"
	"restaurant-service/internal/retry"
	"restaurant-service/internal/service"
	"restaurant-service/internal/sharding"
	"restaurant-service/migrations"
)

const connectRetries = 10

type stores struct {
	catalog   repository.CatalogRepository
	customers repository.CustomerRepository
	discounts repository.DiscountRepository
	orders    repository.OrderRepository
	closers   []func() error
}

func (s *stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// openDatabases connects to the main database and every order shard.
func openDatabases(ctx context.Context, c *config.Config) (*sql.DB, []*sql.DB, error) {
	mainDB, err := mysql.Connect(ctx, c.DB.MainDSN, connectRetries)
	if err != nil {
		return nil, nil, err
	}
	shards := make([]*sql.DB, 0, len(c.DB.OrderShardDSNs))
	for _, dsn := range c.DB.OrderShardDSNs {
		db, err := mysql.Connect(ctx, dsn, connectRetries)
		if err != nil {
			mainDB.Close()
			for _, s := range shards {
				s.Close()
			}
			return nil, nil, err
		}
		shards = append(shards, db)
	}
	return mainDB, shards, nil
}

func buildStores(ctx context.Context, c *config.Config, migrate bool) (*stores, error) {
	if c.Storage.Driver == "memory" {
		store := memory.NewStore()
		logger.Warn().Msg("Using in-memory storage; data is lost on exit")
		return &stores{catalog: store, customers: store, discounts: store, orders: store}, nil
	}

	mainDB, shards, err := openDatabases(ctx, c)
	if err != nil {
		return nil, err
	}
	s := &stores{
		catalog:   mysql.NewCatalogRepository(mainDB),
		customers: mysql.NewCustomerRepository(mainDB),
		discounts: mysql.NewDiscountRepository(mainDB),
		orders:    mysql.NewOrderRepository(shards, sharding.NewShardRouter(len(shards))),
	}
	s.closers = append(s.closers, mainDB.Close)
	for _, db := range shards {
		s.closers = append(s.closers, db.Close)
	}

	if migrate {
		if err := migrations.MigrateMain(ctx, c.DB.MigrateRetries, mainDB); err != nil {
			s.Close()
			return nil, err
		}
		if err := migrations.MigrateOrders(ctx, c.DB.MigrateRetries, shards...); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func newRedis(c *config.Config) *redis.Client {
	if c.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: c.Redis.Addr})
}

func newPublisher(c *config.Config) (events.Publisher, error) {
	switch c.Events.Driver {
	case "kafka":
		return events.NewKafkaPublisher(c.Kafka.NewKafkaWriter()), nil
	case "sarama":
		return events.NewSaramaPublisher(c.Kafka.Brokers, c.Kafka.Topic)
	case "log":
		return events.LogPublisher{}, nil
	}
	return nil, fmt.Errorf("unknown events driver %q", c.Events.Driver)
}

type services struct {
	catalog *service.CatalogService
	orders  *service.OrderService
	loyalty *service.LoyaltyService
}

func retryPolicy(c *config.Config) retry.Policy {
	return retry.Policy{Attempts: c.Retry.Attempts, Backoff: c.Retry.Backoff}
}

// buildServices wires the services on top of the stores. Without Redis the per-order lock and
// idempotency keys are process local, which is only correct for a single instance.
func buildServices(c *config.Config, s *stores, rdb *redis.Client, publisher events.Publisher) *services {
	policy := retryPolicy(c)

	var locker lock.Locker
	var keys idempotency.Store
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, c.Lock.Wait, c.Lock.TTL)
		keys = idempotency.NewRedisStore(rdb)
	} else {
		logger.Warn().Msg("No redis.addr set; order locks and idempotency keys are local to this process")
		locker = lock.NewMemoryLocker(c.Lock.Wait)
		keys = idempotency.NewMemoryStore()
	}

	catalog := service.NewCatalogService(s.catalog, rdb, c.Catalog.CacheTTL)
	loyalty := service.NewLoyaltyService(s.customers, s.orders, publisher, c.Loyalty.AccrualRate, policy)
	orders := service.NewOrderService(
		s.orders,
		s.customers,
		catalog,
		service.NewDiscountEngine(s.discounts),
		loyalty,
		locker,
		keys,
		publisher,
		policy,
	)
	return &services{catalog: catalog, orders: orders, loyalty: loyalty}
}
