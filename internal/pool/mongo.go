package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"dbhub/internal/config"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoOperation names a supported document-store operation. The set is
// closed: operations are dispatched through a switch, not reflectively.
type MongoOperation string

// Supported MongoDB operations
const (
	MongoFind           MongoOperation = "find"
	MongoFindOne        MongoOperation = "findOne"
	MongoInsertOne      MongoOperation = "insertOne"
	MongoInsertMany     MongoOperation = "insertMany"
	MongoUpdateOne      MongoOperation = "updateOne"
	MongoUpdateMany     MongoOperation = "updateMany"
	MongoDeleteOne      MongoOperation = "deleteOne"
	MongoDeleteMany     MongoOperation = "deleteMany"
	MongoAggregate      MongoOperation = "aggregate"
	MongoCountDocuments MongoOperation = "countDocuments"
)

// ErrUnsupportedOperation is returned for operations outside the closed set.
var ErrUnsupportedOperation = errors.New("unsupported mongodb operation")

// MongoArgs carries the arguments of a MongoDB operation. Which fields are
// read depends on the operation: Filter for find/update/delete/count,
// Update for updates, Documents for inserts, Pipeline for aggregate.
type MongoArgs struct {
	Filter    any
	Update    any
	Documents []any
	Pipeline  any
}

// mongoPoolMonitor tracks native pool activity through driver pool events.
type mongoPoolMonitor struct {
	created    atomic.Int64
	closed     atomic.Int64
	checkedOut atomic.Int64
	checkedIn  atomic.Int64
}

func (m *mongoPoolMonitor) handle(e *event.PoolEvent) {
	switch e.Type {
	case event.ConnectionCreated:
		m.created.Add(1)
	case event.ConnectionClosed:
		m.closed.Add(1)
	case event.GetSucceeded:
		m.checkedOut.Add(1)
	case event.ConnectionReturned:
		m.checkedIn.Add(1)
	}
}

// MongoAdapter executes document operations against MongoDB.
type MongoAdapter struct {
	adapterCore
	cfg     config.MongoConfig
	client  *mongo.Client
	db      *mongo.Database
	monitor mongoPoolMonitor
}

func newMongoAdapter(cfg config.MongoConfig, core adapterCore) *MongoAdapter {
	return &MongoAdapter{adapterCore: core, cfg: cfg}
}

// Initialize connects the client and runs the startup ping.
func (a *MongoAdapter) Initialize(ctx context.Context) error {
	const op = "mongodb.initialize"
	a.setState(stateConnecting)

	opts := options.Client().
		ApplyURI(a.cfg.URI).
		SetMaxPoolSize(a.cfg.MaxPoolSize).
		SetMinPoolSize(a.cfg.MinPoolSize).
		SetConnectTimeout(a.cfg.ConnectTimeout).
		SetPoolMonitor(&event.PoolMonitor{Event: a.monitor.handle})

	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(probeCtx, opts)
	if err != nil {
		a.setState(stateFailed)
		return newDriverError(op, a.backend, err)
	}

	db := client.Database(a.cfg.Database)
	if err := db.RunCommand(probeCtx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		_ = client.Disconnect(context.Background())
		a.setState(stateFailed)
		return newDriverError(op, a.backend, err)
	}

	a.client = client
	a.db = db
	a.setState(stateReady)
	a.logger.Info("MongoDB adapter ready",
		zap.String("database", a.cfg.Database),
		zap.Uint64("max_pool_size", a.cfg.MaxPoolSize))
	return nil
}

// Execute runs one operation against a collection, with optional transaction
// wrapping and retries per opts.
func (a *MongoAdapter) Execute(ctx context.Context, collection string, op MongoOperation, args MongoArgs, opts ExecOptions) (*QueryResult, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return withRetry(opts.Retries, func() (*QueryResult, error) {
		return a.executeOnce(ctx, collection, op, args, opts)
	})
}

func (a *MongoAdapter) executeOnce(ctx context.Context, collection string, op MongoOperation, args MongoArgs, opts ExecOptions) (*QueryResult, error) {
	start := time.Now()
	label := fmt.Sprintf("%s.%s", collection, op)

	// The driver checks sessions out of its pool inside the operation, so
	// the acquisition budget covers the whole call here.
	opCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	opID := uuid.NewString()
	a.leases.Track(opID, a.backend)
	defer a.leases.Release(opID)

	coll := a.db.Collection(collection)

	var res *QueryResult
	var err error
	if opts.UseTransaction {
		res, err = a.runInTransaction(opCtx, coll, op, args)
	} else {
		res, err = a.dispatch(opCtx, coll, op, args)
	}

	if err != nil {
		err = classifyMongoError(err)
		a.report(label, start, "", 0, nil, err)
		return nil, err
	}

	res.Duration = time.Since(start)
	a.report(label, start, "", res.RowsAffected, nil, nil)
	return res, nil
}

// classifyMongoError promotes an exhausted operation budget to a connection
// timeout error. The driver checks sessions out of its pool internally, so a
// deadline hit anywhere in the call counts as acquisition failure, even after
// dispatch has wrapped it as a driver error.
func classifyMongoError(err error) error {
	if isAcquireTimeout(err) && !IsConnectionTimeout(err) {
		return newConnectionTimeoutError("mongodb.execute", BackendMongo, err)
	}
	return err
}

func (a *MongoAdapter) runInTransaction(ctx context.Context, coll *mongo.Collection, op MongoOperation, args MongoArgs) (*QueryResult, error) {
	const errOp = "mongodb.execute"

	sess, err := a.client.StartSession()
	if err != nil {
		return nil, newDriverError(errOp, a.backend, err)
	}
	defer sess.EndSession(context.Background())

	var res *QueryResult
	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(); err != nil {
			return newDriverError(errOp, a.backend, err)
		}

		r, err := a.dispatch(sc, coll, op, args)
		if err != nil {
			if abortErr := sess.AbortTransaction(sc); abortErr != nil {
				return newRollbackError(errOp, a.backend, abortErr, err)
			}
			return err
		}

		if err := sess.CommitTransaction(sc); err != nil {
			return newDriverError(errOp, a.backend, err)
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (a *MongoAdapter) dispatch(ctx context.Context, coll *mongo.Collection, op MongoOperation, args MongoArgs) (*QueryResult, error) {
	const errOp = "mongodb.execute"

	filter := args.Filter
	if filter == nil {
		filter = bson.D{}
	}

	switch op {
	case MongoFind:
		cur, err := coll.Find(ctx, filter)
		if err != nil {
			return nil, newDriverError(errOp, a.backend, err)
		}
		return a.collect(ctx, cur)

	case MongoFindOne:
		var doc bson.M
		err := coll.FindOne(ctx, filter).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &QueryResult{}, nil
		}
		if err != nil {
			return nil, newDriverError(errOp, a.backend, err)
		}
		return &QueryResult{Rows: []map[string]any{doc}, RowsAffected: 1}, nil

	case MongoInsertOne:
		if len(args.Documents) != 1 {
			return nil, fmt.Errorf("%s: insertOne requires exactly one document", errOp)
		}
		if _, err := coll.InsertOne(ctx, args.Documents[0]); err != nil {
			return nil, newDriverError(errOp, a.backend, err)
		}
		return &QueryResult{RowsAffected: 1}, nil

	case MongoInsertMany:
		if len(args.Documents) == 0 {
			return nil, fmt.Errorf("%s: insertMany requires at least one document", errOp)
		}
		res, err := coll.InsertMany(ctx, args.Documents)
		if err != nil {
			return nil, newDriverError(errOp, a.backend, err)
		}
		return &QueryResult{RowsAffected: int64(len(res.InsertedIDs))}, nil

	case MongoUpdateOne:
		res, err := coll.UpdateOne(ctx, filter, args.Update)
		if err != nil {
			return nil, newDriverError(errOp, a.backend, err)
		}
		return &QueryResult{RowsAffected: res.ModifiedCount + res.UpsertedCount}, nil

	case MongoUpdateMany:
		res, err := coll.UpdateMany(ctx, filter, args.Update)
		if err != nil {
			return nil, newDriverError(errOp, a.backend, err)
		}
		return &QueryResult{RowsAffected: res.ModifiedCount + res.UpsertedCount}, nil

	case MongoDeleteOne:
		res, err := coll.DeleteOne(ctx, filter)
		if err != nil {
			return nil, newDriverError(errOp, a.backend, err)
		}
		return &QueryResult{RowsAffected: res.DeletedCount}, nil

	case MongoDeleteMany:
		res, err := coll.DeleteMany(ctx, filter)
		if err != nil {
			return nil, newDriverError(errOp, a.backend, err)
		}
		return &QueryResult{RowsAffected: res.DeletedCount}, nil

	case MongoAggregate:
		pipeline := args.Pipeline
		if pipeline == nil {
			pipeline = mongo.Pipeline{}
		}
		cur, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, newDriverError(errOp, a.backend, err)
		}
		return a.collect(ctx, cur)

	case MongoCountDocuments:
		n, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, newDriverError(errOp, a.backend, err)
		}
		return &QueryResult{
			Rows:         []map[string]any{{"count": n}},
			RowsAffected: n,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, op)
	}
}

func (a *MongoAdapter) collect(ctx context.Context, cur *mongo.Cursor) (*QueryResult, error) {
	const errOp = "mongodb.execute"

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, newDriverError(errOp, a.backend, err)
	}

	rows := make([]map[string]any, len(docs))
	for i, d := range docs {
		rows[i] = d
	}
	return &QueryResult{Rows: rows, RowsAffected: int64(len(rows))}, nil
}

// PoolStats derives live pool figures from driver pool events.
func (a *MongoAdapter) PoolStats() PoolStats {
	created := a.monitor.created.Load()
	closed := a.monitor.closed.Load()
	active := a.monitor.checkedOut.Load() - a.monitor.checkedIn.Load()
	if active < 0 {
		active = 0
	}
	total := created - closed
	if total < 0 {
		total = 0
	}
	idle := total - active
	if idle < 0 {
		idle = 0
	}
	return PoolStats{
		TotalConnections:     int32(total),
		IdleConnections:      int32(idle),
		ActiveConnections:    int32(active),
		ConnectionsCreated:   created,
		ConnectionsDestroyed: closed,
	}
}

// Close disconnects the client. The client pointer is left intact so
// concurrent in-flight calls never observe nil; new calls are gated by the
// state machine.
func (a *MongoAdapter) Close(ctx context.Context) error {
	const op = "mongodb.close"
	if !a.state.CompareAndSwap(stateReady, stateUninitialized) {
		return nil
	}
	if err := a.client.Disconnect(ctx); err != nil {
		return newDriverError(op, a.backend, err)
	}
	return nil
}
