package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/innkeeper/store"
)

// tableWait bounds how long Provision waits for a table to become active.
const tableWait = 2 * time.Minute

// TableSpec describes one table Provision creates. RangeColumn is set for
// kinds with a two-part key.
type TableSpec struct {
	Name        string
	KeyColumn   string
	KeyType     types.ScalarAttributeType
	RangeColumn string
	RangeType   types.ScalarAttributeType
	Stream      bool
}

// Tables lists the tables a sealed registry needs: one per concrete kind
// (or single-table hierarchy), one per view keyed by its first column, and
// the sequence table. Entity tables carry streams when streams are enabled.
func (d *DB) Tables(reg *store.Registry) ([]TableSpec, error) {
	if !reg.Sealed() {
		if err := reg.Seal(); err != nil {
			return nil, err
		}
	}
	var specs []TableSpec
	seen := map[string]bool{}
	for _, k := range reg.Kinds() {
		var key *store.Property
		switch {
		case k.View:
			if len(k.Properties) == 0 {
				continue
			}
			key = k.Properties[0]
		case k.Strategy == store.StrategySingleTable && k.Abstract:
			key = k.Key
		case k.Abstract, k.Strategy == store.StrategySingleTable:
			continue
		default:
			key = k.Key
		}
		if key == nil || seen[k.Table] {
			continue
		}
		seen[k.Table] = true
		spec := TableSpec{
			Name:      d.table(k.Table),
			KeyColumn: key.Column,
			KeyType:   scalarType(key.Type),
			Stream:    d.config.Streams && !k.View,
		}
		if !k.View && k.Composite() {
			if len(k.Keys) > 2 {
				return nil, fmt.Errorf("kind %s: keys have at most two parts", k.Kind)
			}
			spec.RangeColumn = k.Keys[1].Column
			spec.RangeType = scalarType(k.Keys[1].Type)
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return append(specs, TableSpec{
		Name:      d.table(d.config.SequenceTable),
		KeyColumn: "name",
		KeyType:   types.ScalarAttributeTypeS,
	}), nil
}

func scalarType(t store.ColumnType) types.ScalarAttributeType {
	switch t {
	case store.TypeInt, store.TypeReal:
		return types.ScalarAttributeTypeN
	case store.TypeBlob:
		return types.ScalarAttributeTypeB
	}
	return types.ScalarAttributeTypeS
}

// Provision creates every table of reg that does not exist yet and waits
// for them to become active.
func Provision(ctx context.Context, db *DB, reg *store.Registry) error {
	specs, err := db.Tables(reg)
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	created := 0
	for _, s := range specs {
		ok, err := db.createTable(ctx, s)
		if err != nil {
			return fmt.Errorf("provision %s: %w", s.Name, err)
		}
		if ok {
			created++
		}
	}
	waiter := dynamodb.NewTableExistsWaiter(db.client)
	for _, s := range specs {
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.Name)}, tableWait); err != nil {
			return fmt.Errorf("provision %s: %w", s.Name, err)
		}
	}
	db.log.Info("provisioned tables", "tables", len(specs), "created", created)
	return nil
}

// createTable reports false when the table already exists.
func (d *DB) createTable(ctx context.Context, s TableSpec) (bool, error) {
	in := &dynamodb.CreateTableInput{
		TableName:   aws.String(s.Name),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(s.KeyColumn), AttributeType: s.KeyType},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(s.KeyColumn), KeyType: types.KeyTypeHash},
		},
	}
	if s.RangeColumn != "" {
		in.AttributeDefinitions = append(in.AttributeDefinitions,
			types.AttributeDefinition{AttributeName: aws.String(s.RangeColumn), AttributeType: s.RangeType})
		in.KeySchema = append(in.KeySchema,
			types.KeySchemaElement{AttributeName: aws.String(s.RangeColumn), KeyType: types.KeyTypeRange})
	}
	if s.Stream {
		in.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		}
	}
	d.log.Debug("create table", "table", s.Name, "key", s.KeyColumn)
	_, err := d.client.CreateTable(ctx, in)
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
