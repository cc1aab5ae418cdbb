package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"trustcert/internal/certificate/compiler"
	certhandler "trustcert/internal/certificate/handler"
	certmetrics "trustcert/internal/certificate/metrics"
	certsvc "trustcert/internal/certificate/service"
	certstore "trustcert/internal/certificate/store"
	"trustcert/internal/certificate/sweeper"
	govhandler "trustcert/internal/governance/handler"
	govsvc "trustcert/internal/governance/service"
	govstore "trustcert/internal/governance/store"
	jwttoken "trustcert/internal/jwt_token"
	"trustcert/internal/ledger/events"
	"trustcert/internal/ledger/events/inprocess"
	ledgerkafka "trustcert/internal/ledger/events/kafka"
	ledgerhandler "trustcert/internal/ledger/handler"
	ledgermetrics "trustcert/internal/ledger/metrics"
	ledgermodels "trustcert/internal/ledger/models"
	ledgersvc "trustcert/internal/ledger/service"
	ledgerstore "trustcert/internal/ledger/store"
	"trustcert/internal/oracle"
	"trustcert/internal/oracle/algod"
	oraclecache "trustcert/internal/oracle/cache"
	"trustcert/internal/platform/config"
	"trustcert/internal/platform/kafka/consumer"
	"trustcert/internal/platform/kafka/producer"
	httpmetrics "trustcert/internal/platform/metrics"
	"trustcert/internal/platform/postgres"
	"trustcert/internal/platform/redis"
	principalhandler "trustcert/internal/principal/handler"
	principalmodels "trustcert/internal/principal/models"
	principalsvc "trustcert/internal/principal/service"
	principalstore "trustcert/internal/principal/store"
	httptransport "trustcert/internal/transport/http"
	vaulthandler "trustcert/internal/vault/handler"
	vaultmetrics "trustcert/internal/vault/metrics"
	vaultsvc "trustcert/internal/vault/service"
	vaultstore "trustcert/internal/vault/store"
	"trustcert/pkg/platform/audit"
	"trustcert/pkg/platform/audit/publisher"
	"trustcert/pkg/platform/audit/publishers"
	"trustcert/pkg/platform/audit/publishers/compliance"
	"trustcert/pkg/platform/audit/publishers/ops"
	auditmemory "trustcert/pkg/platform/audit/store/memory"
	auditpostgres "trustcert/pkg/platform/audit/store/postgres"
	"trustcert/pkg/platform/circuit"
	"trustcert/pkg/platform/keyseal"
	"trustcert/pkg/platform/strings"
)

const devTokenTTL = time.Hour

type stores struct {
	certificates certsvc.Store
	records      ledgersvc.Store
	principals   principalsvc.Store
	vaults       vaultsvc.Store
	policies     govsvc.Store
	audit        audit.Store
}

// app owns every long-lived component so shutdown can release them in order.
type app struct {
	cfg    config.Server
	log    *slog.Logger
	router chi.Router

	db         *sql.DB
	redis      *redis.Client
	producer   *producer.Producer
	consumer   *consumer.Consumer
	dispatcher *inprocess.Dispatcher
	sweeper    *sweeper.Sweeper
	opsAudit   *publisher.Publisher
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close(log)
		}
	}()

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	sealer, err := newSealer(cfg, log)
	if err != nil {
		return nil, err
	}
	a.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	auditor := a.auditPublisher(st.audit)

	principals := principalsvc.New(st.principals, principalsvc.WithLogger(log))
	if cfg.SeedDemoData {
		if err := principals.SeedPrincipals(ctx, principalsvc.DemoSeeds); err != nil {
			return nil, fmt.Errorf("seed principals: %w", err)
		}
	}

	ledgerMetrics := ledgermetrics.New()
	// The certificate service reads the ledger and the ledger notifies the
	// certificate service, so the handler is bound once both exist.
	var certificates *certsvc.Service
	onAppended := func(ctx context.Context, event ledgermodels.RecordAppended) error {
		return certificates.HandleRecordAppended(ctx, event)
	}
	notifier, err := a.notifier(ctx, onAppended, ledgerMetrics)
	if err != nil {
		return nil, err
	}

	records := ledgersvc.New(st.records,
		ledgersvc.WithLogger(log),
		ledgersvc.WithMetrics(ledgerMetrics),
		ledgersvc.WithNotifier(notifier),
		ledgersvc.WithAuditPublisher(auditor),
		ledgersvc.WithSubjectDirectory(principals),
	)
	certificates = certsvc.New(st.certificates,
		compiler.New(principals, compiler.WithLogger(log)),
		records,
		sealer,
		certsvc.WithLogger(log),
		certsvc.WithMetrics(certmetrics.New()),
		certsvc.WithAuditPublisher(auditor),
		certsvc.WithSubjectDirectory(principals),
		certsvc.WithTxTimeout(cfg.Database.TxTimeout),
	)
	if cfg.Sweeper.Enabled {
		a.sweeper = sweeper.New(certificates, cfg.Sweeper.Schedule, sweeper.WithLogger(log))
	}

	vaultOpts := []vaultsvc.Option{
		vaultsvc.WithLogger(log),
		vaultsvc.WithMetrics(vaultmetrics.New()),
		vaultsvc.WithAuditPublisher(auditor),
		vaultsvc.WithOracleTimeout(cfg.Oracle.Timeout),
	}
	if src := a.oracle(); src != nil {
		vaultOpts = append(vaultOpts, vaultsvc.WithOracle(src))
	}
	vaults := vaultsvc.New(st.vaults, sealer, vaultOpts...)

	policies := govsvc.New(st.policies, govsvc.WithLogger(log), govsvc.WithAuditPublisher(auditor))

	tokens := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, "trustcert")
	principalRoutes := principalhandler.New(principals, log)
	if !cfg.IsProduction() {
		principalRoutes = principalRoutes.WithDevLogin(tokens, devTokenTTL)
	}
	certRoutes := certhandler.New(certificates, log)

	a.router = httptransport.NewRouter(httptransport.Config{
		Logger:    log,
		Validator: jwttoken.NewJWTServiceAdapter(tokens),
		Metrics:   httpmetrics.New(),
		Checks:    a.healthChecks(),
		Public:    []httptransport.PublicRegistrar{certRoutes, principalRoutes},
		Protected: []httptransport.Registrar{
			certRoutes,
			principalRoutes,
			ledgerhandler.New(records, log, principalmodels.ApprovalRoles...),
			vaulthandler.New(vaults, log),
			govhandler.New(policies, log),
		},
	})
	return a, nil
}

func (a *app) openStores(ctx context.Context) (stores, error) {
	if a.cfg.Database.URL == "" {
		a.log.Warn("no database configured, using in-memory stores")
		return stores{
			certificates: certstore.NewInMemoryStore(),
			records:      ledgerstore.NewInMemoryStore(),
			principals:   principalstore.NewInMemoryStore(),
			vaults:       vaultstore.NewInMemoryStore(),
			policies:     govstore.NewInMemoryStore(),
			audit:        auditmemory.NewInMemoryStore(),
		}, nil
	}

	db, err := postgres.Open(ctx, a.cfg.Database)
	if err != nil {
		return stores{}, fmt.Errorf("postgres: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return stores{}, fmt.Errorf("migrate: %w", err)
	}
	a.db = db
	return stores{
		certificates: certstore.NewPostgres(db),
		records:      ledgerstore.NewPostgres(db),
		principals:   principalstore.NewPostgres(db),
		vaults:       vaultstore.NewPostgres(db),
		policies:     govstore.NewPostgres(db),
		audit:        auditpostgres.New(db),
	}, nil
}

func newSealer(cfg config.Server, log *slog.Logger) (*keyseal.Sealer, error) {
	key, err := cfg.SealKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		log.Warn("no seal key configured, payload keys will not survive a restart")
		return keyseal.NewEphemeral()
	}
	return keyseal.New(key)
}

// auditPublisher routes compliance events to a synchronous fail-closed
// publisher and operational events to a sampled, buffered one.
func (a *app) auditPublisher(store audit.Store) *publishers.Router {
	a.opsAudit = publisher.NewPublisher(store,
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(a.log),
	)
	return publishers.NewRouter(
		compliance.New(store, compliance.WithLogger(a.log), compliance.WithMetrics(compliance.NewMetrics())),
		ops.New(a.opsAudit, ops.WithLogger(a.log), ops.WithMetrics(ops.NewMetrics())),
	)
}

// notifier publishes record-appended events to Kafka when brokers are
// configured and dispatches them in process otherwise.
func (a *app) notifier(ctx context.Context, handle events.HandlerFunc, m *ledgermetrics.Metrics) (ledgersvc.Notifier, error) {
	brokers := strings.DedupeAndTrim(a.cfg.Kafka.Brokers)
	if len(brokers) == 0 {
		a.dispatcher = inprocess.New(handle, inprocess.WithLogger(a.log), inprocess.WithMetrics(m))
		return a.dispatcher, nil
	}

	p, err := producer.New(brokers, a.cfg.Kafka.Topic, a.log)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	a.producer = p
	if err := p.EnsureTopic(ctx, a.cfg.Kafka.Partitions); err != nil {
		return nil, fmt.Errorf("kafka topic: %w", err)
	}

	routes := consumer.NewRouter(a.log, nil)
	routes.Register(a.cfg.Kafka.Topic, ledgerkafka.NewHandler(handle, a.log, m))
	c, err := consumer.New(brokers, a.cfg.Kafka.ConsumerGroup, routes.Topics(), routes, a.log)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	a.consumer = c
	return ledgerkafka.NewPublisher(p, a.log, m), nil
}

// oracle builds the guarded on-chain source, cached in Redis when available.
// Nil means vault release decides by the clock alone.
func (a *app) oracle() vaultsvc.Oracle {
	cfg := a.cfg.Oracle
	if cfg.URL == "" {
		return nil
	}
	m := oracle.NewMetrics()
	var src oracle.Source = oracle.NewGuarded(algod.New(cfg.URL, cfg.Token),
		oracle.WithTimeout(cfg.Timeout),
		oracle.WithRateLimit(cfg.RatePerSecond, cfg.Burst),
		oracle.WithBreaker(circuit.New("oracle",
			circuit.WithFailureThreshold(cfg.BreakerFailure),
			circuit.WithCooldown(cfg.BreakerCool),
		)),
		oracle.WithLogger(a.log),
		oracle.WithMetrics(m),
	)
	if a.redis != nil {
		src = oraclecache.New(src, a.redis, a.cfg.Redis.CacheTTL,
			oraclecache.WithLogger(a.log),
			oraclecache.WithMetrics(m),
		)
	}
	return src
}

func (a *app) healthChecks() map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.producer != nil {
		checks["kafka"] = a.producer.Ping
	}
	return checks
}

// start launches background workers. They stop when ctx is cancelled.
func (a *app) start(ctx context.Context) error {
	if a.dispatcher != nil {
		a.dispatcher.Start(ctx)
	}
	if a.consumer != nil {
		go func() {
			if err := a.consumer.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("record consumer stopped", "error", err)
			}
		}()
	}
	if a.sweeper != nil {
		if err := a.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("sweeper: %w", err)
		}
	}
	return nil
}

func (a *app) close(log *slog.Logger) {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.consumer != nil {
		a.consumer.Close()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.producer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.producer.Close(ctx)
		cancel()
	}
	if a.opsAudit != nil {
		_ = a.opsAudit.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn("database close failed", "error", err)
		}
	}
}
