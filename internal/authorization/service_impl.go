package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/opsledger/internal/audit/domain"
	"github.com/smallbiznis/opsledger/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectAccount            = "account"
	ObjectBalanceTransaction = "balance_transaction"
	ObjectCustody            = "custody"
	ObjectExpense            = "expense"
	ObjectPayable            = "payable"
	ObjectOrder              = "order"
	ObjectDashboard          = "dashboard"
	ObjectAuditLog           = "audit_log"
)

const (
	ActionAccountView   = "account.view"
	ActionAccountCreate = "account.create"
	ActionAccountList   = "account.list"

	ActionTransactionView    = "balance_transaction.view"
	ActionTransactionCredit  = "balance_transaction.credit"
	ActionTransactionDebit   = "balance_transaction.debit"
	ActionTransactionConfirm = "balance_transaction.confirm"
	ActionTransactionReject  = "balance_transaction.reject"
	ActionTransactionDelete  = "balance_transaction.delete"
	ActionBalanceReconcile   = "balance_transaction.reconcile"

	ActionCustodyIssue = "custody.issue"
	ActionCustodySpend = "custody.spend"
	ActionCustodyView  = "custody.view"

	ActionExpenseCreate  = "expense.create"
	ActionExpenseView    = "expense.view"
	ActionExpenseApprove = "expense.approve"
	ActionExpenseReject  = "expense.reject"
	ActionExpenseDelete  = "expense.delete"

	ActionPayableView   = "payable.view"
	ActionPayableCreate = "payable.create"
	ActionPayablePay    = "payable.pay"
	ActionPayableDelete = "payable.delete"

	ActionOrderView   = "order.view"
	ActionOrderLock   = "order.lock"
	ActionOrderCancel = "order.cancel"

	ActionDashboardView = "dashboard.view"
	ActionAuditLogView  = "audit_log.view"
)

const (
	roleAdministrator = "role:" + string(principal.RoleAdministrator)
	roleStaff         = "role:" + string(principal.RoleStaff)
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies persisted through the gorm adapter and seeds the defaults.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// NewMemoryEnforcer builds an enforcer with the seeded policies and no storage.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor principal.Principal, object string, action string) error {
	if !actor.Valid() {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(actor.Subject(), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", actor.Subject()),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor principal.Principal, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		Actor:        actor,
		Action:       "authorization.denied",
		ResourceType: object,
		Details: map[string]any{
			"action": action,
		},
	}); err != nil {
		s.log.Warn("failed to write authorization audit log", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	staff := [][]string{
		{roleStaff, ObjectAccount, ActionAccountView},
		{roleStaff, ObjectBalanceTransaction, ActionTransactionView},
		{roleStaff, ObjectBalanceTransaction, ActionTransactionDebit},
		{roleStaff, ObjectBalanceTransaction, ActionTransactionConfirm},
		{roleStaff, ObjectBalanceTransaction, ActionTransactionReject},
		{roleStaff, ObjectCustody, ActionCustodySpend},
		{roleStaff, ObjectCustody, ActionCustodyView},
		{roleStaff, ObjectExpense, ActionExpenseCreate},
		{roleStaff, ObjectExpense, ActionExpenseView},
		{roleStaff, ObjectPayable, ActionPayableView},
		{roleStaff, ObjectPayable, ActionPayableCreate},
		{roleStaff, ObjectPayable, ActionPayablePay},
		{roleStaff, ObjectOrder, ActionOrderView},
	}
	admin := [][]string{
		{roleAdministrator, ObjectAccount, ActionAccountCreate},
		{roleAdministrator, ObjectAccount, ActionAccountList},
		{roleAdministrator, ObjectBalanceTransaction, ActionTransactionCredit},
		{roleAdministrator, ObjectBalanceTransaction, ActionTransactionDelete},
		{roleAdministrator, ObjectBalanceTransaction, ActionBalanceReconcile},
		{roleAdministrator, ObjectCustody, ActionCustodyIssue},
		{roleAdministrator, ObjectExpense, ActionExpenseApprove},
		{roleAdministrator, ObjectExpense, ActionExpenseReject},
		{roleAdministrator, ObjectExpense, ActionExpenseDelete},
		{roleAdministrator, ObjectPayable, ActionPayableDelete},
		{roleAdministrator, ObjectOrder, ActionOrderLock},
		{roleAdministrator, ObjectOrder, ActionOrderCancel},
		{roleAdministrator, ObjectDashboard, ActionDashboardView},
		{roleAdministrator, ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range append(staff, admin...) {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// Administrators inherit everything staff may do.
	has, err := enforcer.HasGroupingPolicy(roleAdministrator, roleStaff)
	if err != nil {
		return err
	}
	if !has {
		if _, err := enforcer.AddGroupingPolicy(roleAdministrator, roleStaff); err != nil {
			return err
		}
	}
	return nil
}
