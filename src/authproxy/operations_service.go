package authproxy

import (
	"context"

	longrunningpb "google.golang.org/genproto/googleapis/longrunning"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// GetOperation forwards Operations/GetOperation, routing by the instance
// name encoded in the operation name (§4.4), requiring Execute.
func (p *Proxy) GetOperation(ctx context.Context, req *longrunningpb.GetOperationRequest) (*longrunningpb.Operation, error) {
	guard := startRPC("GetOperation")
	defer guard.drop(ctx)
	instanceName, _, err := splitOperationName(req.GetName())
	if err != nil {
		guard.done(err)
		return nil, err
	}
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), instanceName, Execute); err != nil {
		guard.done(err)
		return nil, err
	}
	route := p.Router.Route(instanceName)
	if route.Execution == nil {
		err := status.Errorf(codes.NotFound, "instance %q has no execution backend", instanceName)
		guard.done(err)
		return nil, err
	}
	client := longrunningpb.NewOperationsClient(route.Execution.Conn)
	resp, err := WithRetry(ctx, func(ctx context.Context) (*longrunningpb.Operation, error) {
		return client.GetOperation(ctx, req)
	})
	guard.done(err)
	return resp, err
}

// CancelOperation forwards Operations/CancelOperation, requiring Execute.
func (p *Proxy) CancelOperation(ctx context.Context, req *longrunningpb.CancelOperationRequest) (*emptypb.Empty, error) {
	guard := startRPC("CancelOperation")
	defer guard.drop(ctx)
	instanceName, _, err := splitOperationName(req.GetName())
	if err != nil {
		guard.done(err)
		return nil, err
	}
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), instanceName, Execute); err != nil {
		guard.done(err)
		return nil, err
	}
	route := p.Router.Route(instanceName)
	if route.Execution == nil {
		err := status.Errorf(codes.NotFound, "instance %q has no execution backend", instanceName)
		guard.done(err)
		return nil, err
	}
	client := longrunningpb.NewOperationsClient(route.Execution.Conn)
	resp, err := client.CancelOperation(ctx, req)
	guard.done(err)
	return resp, err
}

// DeleteOperation forwards Operations/DeleteOperation, requiring Execute.
func (p *Proxy) DeleteOperation(ctx context.Context, req *longrunningpb.DeleteOperationRequest) (*emptypb.Empty, error) {
	guard := startRPC("DeleteOperation")
	defer guard.drop(ctx)
	instanceName, _, err := splitOperationName(req.GetName())
	if err != nil {
		guard.done(err)
		return nil, err
	}
	if _, err := authenticate(ctx, p.schemeFor(schemeFromContext(ctx)), instanceName, Execute); err != nil {
		guard.done(err)
		return nil, err
	}
	route := p.Router.Route(instanceName)
	if route.Execution == nil {
		err := status.Errorf(codes.NotFound, "instance %q has no execution backend", instanceName)
		guard.done(err)
		return nil, err
	}
	client := longrunningpb.NewOperationsClient(route.Execution.Conn)
	resp, err := client.DeleteOperation(ctx, req)
	guard.done(err)
	return resp, err
}

// ListOperations is not part of this cluster's external contract,
// matching the execution service's own ListOperations(Unimplemented): no
// client in this cluster enumerates operations by instance.
func (p *Proxy) ListOperations(ctx context.Context, req *longrunningpb.ListOperationsRequest) (*longrunningpb.ListOperationsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "ListOperations is not supported")
}
