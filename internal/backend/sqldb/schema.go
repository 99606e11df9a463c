package sqldb

import (
	"context"
	"fmt"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS insurance_plans (
id INTEGER PRIMARY KEY AUTOINCREMENT,
plan_name TEXT NOT NULL,
provider TEXT NOT NULL,
plan_type TEXT NOT NULL,
coverage_amount REAL NOT NULL,
term_years INTEGER,
monthly_premium REAL NOT NULL,
min_age INTEGER NOT NULL,
max_age INTEGER NOT NULL,
min_income REAL NOT NULL,
risk_tolerance TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS user_inputs (
id TEXT PRIMARY KEY,
age REAL NOT NULL,
income REAL NOT NULL,
dependents INTEGER,
risk_tolerance TEXT NOT NULL,
ip_address TEXT,
recommendations TEXT,
created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_insurance_plans_risk ON insurance_plans(risk_tolerance)`,
	`CREATE INDEX IF NOT EXISTS idx_user_inputs_created ON user_inputs(created_at)`,
}

type seedPlan struct {
	name, provider, planType string
	coverage                 float64
	termYears                any
	premium                  float64
	minAge, maxAge           int
	minIncome                float64
	risk                     string
}

var seedPlans = []seedPlan{
	{"Term Life 10", "Acme Mutual", "term", 250000, 10, 18.5, 18, 60, 20000, "low"},
	{"Term Life 20", "Acme Mutual", "term", 500000, 20, 32.5, 18, 55, 40000, "low"},
	{"Guaranteed Whole Life", "Harbor Life", "whole", 100000, nil, 95, 30, 80, 25000, "low"},
	{"Term Life 20", "Acme Mutual", "term", 500000, 20, 32.5, 18, 55, 40000, "medium"},
	{"Family Shield 30", "Northwind Assurance", "term", 1000000, 30, 58, 21, 50, 60000, "medium"},
	{"Universal Life Flex", "Harbor Life", "universal", 400000, nil, 120, 25, 70, 50000, "medium"},
	{"Indexed Universal Life", "Northwind Assurance", "indexed_universal", 750000, nil, 210, 25, 65, 80000, "high"},
	{"Variable Universal Life", "Summit Financial", "variable_universal", 1000000, nil, 260, 25, 60, 100000, "high"},
	{"Term Life 30", "Summit Financial", "term", 750000, 30, 45, 18, 45, 50000, "high"},
}

// initSchema creates the tables and seeds insurance_plans when it is empty.
func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM insurance_plans`); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const insert = `INSERT INTO insurance_plans
(plan_name, provider, plan_type, coverage_amount, term_years, monthly_premium, min_age, max_age, min_income, risk_tolerance)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, p := range seedPlans {
		if _, err := tx.ExecContext(ctx, insert,
			p.name, p.provider, p.planType, p.coverage, p.termYears, p.premium,
			p.minAge, p.maxAge, p.minIncome, p.risk); err != nil {
			return fmt.Errorf("seed plan %q: %w", p.name, err)
		}
	}
	return tx.Commit()
}

// sqliteRecommendQuery emulates the recommendation procedure. Args: risk
// tolerance, age, income, dependents. Households with dependents see the
// largest coverage first, everyone else the cheapest premium first.
const sqliteRecommendQuery = `SELECT COALESCE(json_group_array(json_object(
	'id', id,
	'plan_name', plan_name,
	'provider', provider,
	'plan_type', plan_type,
	'coverage_amount', coverage_amount,
	'term_years', term_years,
	'monthly_premium', monthly_premium
)), '[]')
FROM (
	SELECT p.* FROM insurance_plans p, (SELECT ? AS risk, ? AS age, ? AS income, ? AS dependents) q
	WHERE lower(p.risk_tolerance) = lower(q.risk)
	  AND q.age BETWEEN p.min_age AND p.max_age
	  AND p.min_income <= q.income
	ORDER BY CASE WHEN q.dependents > 0 THEN p.coverage_amount ELSE 0 END DESC,
	         p.monthly_premium ASC, p.id ASC
)`

// sqliteUserRequestsQuery emulates the user requests procedure, newest first.
const sqliteUserRequestsQuery = `SELECT COALESCE(json_group_array(json_object(
	'id', id,
	'age', age,
	'income', income,
	'dependents', dependents,
	'risk_tolerance', risk_tolerance,
	'ip_address', ip_address,
	'recommendations', json(recommendations),
	'created_at', created_at
)), '[]')
FROM (SELECT * FROM user_inputs ORDER BY created_at DESC, rowid DESC)`
