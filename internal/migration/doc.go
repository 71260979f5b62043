// Package migration reconciles declared schema migrations against the
// executions recorded by a storage backend.
//
// Callers register migrations in a Registry, then hand the registry and a
// backend Connection to a Reconciler. Reconcile fails fast when the backend
// has recorded executions that no longer have a declared counterpart (for
// example after a code rollback or manual tampering); Status reports the
// joined view without failing; Apply reconciles and then runs every pending
// migration inside its own backend transaction.
//
// The package never issues SQL itself. Concrete backends live under
// internal/storage and implement Connection and Transaction.
//
// Example usage:
//
//	registry := migration.NewRegistry()
//	if err := registry.Register("1.0.0", "create_users", action); err != nil {
//		return err
//	}
//	if err := migration.NewReconciler().Reconcile(ctx, conn, registry); err != nil {
//		return err
//	}
package migration
