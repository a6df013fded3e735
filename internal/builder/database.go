package builder

import (
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// CloudNativePG kinds. They are handled as unstructured objects so the
// controller does not depend on the database operator's Go module.
var (
	DatabaseClusterGVK = schema.GroupVersionKind{Group: "postgresql.cnpg.io", Version: "v1", Kind: "Cluster"}
	ScheduledBackupGVK = schema.GroupVersionKind{Group: "postgresql.cnpg.io", Version: "v1", Kind: "ScheduledBackup"}
)

const (
	DatabaseName = "odoo"
	DatabaseUser = "odoo"
	DatabasePort = 5432
	// AnalyticsDatabaseName is created at bootstrap so analytics can be enabled later.
	AnalyticsDatabaseName = "metabase"
)

func (b *setBuilder) database() error {
	db := b.spec.Database

	resources, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&db.Resources)
	if err != nil {
		return err
	}
	storage := map[string]any{"size": db.StorageSize}
	if sc := b.spec.Application.StorageClassName; sc != nil {
		storage["storageClass"] = *sc
	}

	spec := map[string]any{
		"instances": int64(db.InstanceCount),
		"storage":   storage,
		"resources": resources,
		"postgresql": map[string]any{
			"parameters": map[string]any{
				"max_connections": "200",
				"shared_buffers":  "256MB",
			},
		},
		"bootstrap": map[string]any{
			"initdb": map[string]any{
				"database": DatabaseName,
				"owner":    DatabaseUser,
				"postInitSQL": []any{
					"CREATE DATABASE " + AnalyticsDatabaseName + " OWNER " + DatabaseUser,
				},
			},
		},
	}
	if bk := db.Backup; bk != nil {
		store := map[string]any{
			"destinationPath": bk.DestinationPath,
			"s3Credentials": map[string]any{
				"accessKeyId":     map[string]any{"name": bk.ObjectStoreSecretRef, "key": "ACCESS_KEY_ID"},
				"secretAccessKey": map[string]any{"name": bk.ObjectStoreSecretRef, "key": "SECRET_ACCESS_KEY"},
			},
		}
		if bk.EndpointURL != "" {
			store["endpointURL"] = bk.EndpointURL
		}
		spec["backup"] = map[string]any{
			"barmanObjectStore": store,
			"retentionPolicy":   bk.Retention,
		}
	}

	cluster := &unstructured.Unstructured{Object: map[string]any{
		"metadata": map[string]any{"name": b.names.Database},
		"spec":     spec,
	}}
	b.add(cluster, DatabaseClusterGVK, Desired{Component: ComponentDatabase, Stage: StageDatabase})

	if bk := db.Backup; bk != nil {
		scheduled := &unstructured.Unstructured{Object: map[string]any{
			"metadata": map[string]any{"name": b.names.DatabaseBackup},
			"spec": map[string]any{
				"schedule":             cnpgSchedule(bk.Schedule),
				"backupOwnerReference": "self",
				"cluster":              map[string]any{"name": b.names.Database},
			},
		}}
		b.add(scheduled, ScheduledBackupGVK, Desired{Component: ComponentDatabase, Stage: StageDatabase})
	}
	return nil
}

// cnpgSchedule converts a five field cron expression into the six field
// form (leading seconds) the backup scheduler expects.
func cnpgSchedule(s string) string {
	if len(strings.Fields(s)) == 5 {
		return "0 " + s
	}
	return s
}

// dbPasswordEnv reads the password from the secret the database operator generates.
func (b *setBuilder) dbPasswordEnv(name string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{SecretKeyRef: &corev1.SecretKeySelector{
			LocalObjectReference: corev1.LocalObjectReference{Name: b.names.DatabaseSecret},
			Key:                  "password",
		}},
	}
}
