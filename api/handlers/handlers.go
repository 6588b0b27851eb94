package handlers

import (
	"github.com/studyforge/material-pipeline/internal/service/material"
	"github.com/studyforge/material-pipeline/pkg/logger"
)

type Handlers struct {
	Material *MaterialHandler
}

func NewHandlers(
	materialService material.Service,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Material: NewMaterialHandler(materialService, logger),
	}
}
