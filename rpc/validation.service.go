package rpc

type ValidationServiceConfig struct {
	AvailableProviders []string
	// MaxDepth caps max_depth; 0 means no cap.
	MaxDepth int
}

type ValidationService struct {
	config *ValidationServiceConfig
}

func NewValidationService(config *ValidationServiceConfig) *ValidationService {
	return &ValidationService{
		config: config,
	}
}

func (s *ValidationService) IsSupportedProvider(provider string) bool {
	for _, p := range s.config.AvailableProviders {
		if p == provider {
			return true
		}
	}
	return false
}

func (s *ValidationService) IsValidDepth(depth int) bool {
	if depth < 0 {
		return false
	}
	return s.config.MaxDepth == 0 || depth <= s.config.MaxDepth
}
