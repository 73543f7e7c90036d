package service

import (
	"context"
	"fmt"

	"github.com/mirado/sms-dispatch/internal/domain"
	"github.com/mirado/sms-dispatch/internal/repository"
	"go.uber.org/zap"
)

// Resolver turns a target selector into the concrete parents to text.
type Resolver struct {
	directory repository.DirectoryRepository
	logger    *zap.Logger
}

func NewResolver(directory repository.DirectoryRepository, logger *zap.Logger) (*Resolver, error) {
	if directory == nil {
		return nil, fmt.Errorf("directory repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{directory: directory, logger: logger}, nil
}

// Resolve fetches the students matched by the selector and maps each to a
// recipient. Students without a reachable parent never produce a ledger
// entry; they are returned as the skipped count so dispatch counters can
// record them as resolution failures.
func (r *Resolver) Resolve(ctx context.Context, target domain.TargetSelector) ([]domain.Recipient, int, error) {
	if err := target.Validate(); err != nil {
		return nil, 0, err
	}

	var (
		students []domain.Student
		err      error
	)
	switch target.Kind {
	case domain.TargetClass:
		students, err = r.directory.FindByClasses(ctx, target.Classes)
	case domain.TargetLevel:
		students, err = r.directory.FindByLevels(ctx, target.Levels)
	case domain.TargetIndividual:
		students, err = r.directory.FindByIDs(ctx, target.StudentIDs)
	case domain.TargetAll:
		students, err = r.directory.FindActive(ctx)
	default:
		return nil, 0, fmt.Errorf("%w: invalid target kind %q", domain.ErrValidation, target.Kind)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve target %s: %w", target.Kind, err)
	}

	skipped := 0
	recipients := make([]domain.Recipient, 0, len(students))
	for i := range students {
		student := students[i]
		if student.Parent == nil || student.Parent.Phone == "" {
			skipped++
			r.logger.Warn("student has no reachable parent, skipping",
				zap.String("studentId", student.ID),
				zap.String("matricule", student.Matricule),
			)
			continue
		}

		recipients = append(recipients, domain.Recipient{
			ParentID:  student.Parent.ID,
			StudentID: student.ID,
			Phone:     student.Parent.Phone,
			Fields: domain.TemplateFields{
				ParentName:       student.Parent.Name,
				ParentPhone:      student.Parent.Phone,
				StudentFirstName: student.FirstName,
				StudentLastName:  student.LastName,
				Matricule:        student.Matricule,
				Classe:           student.Classe,
				Niveau:           student.Niveau,
				Status:           student.Status,
			},
		})
	}

	return recipients, skipped, nil
}
